package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"daraja-payments/internal/client"
	"daraja-payments/internal/domain"
	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/usecase"
)

var version = "dev"

type globalFlags struct {
	baseURL string
	token   string
	timeout time.Duration
	verbose bool
}

func main() {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "paycheck",
		Short:         "Start tier upgrades and follow their payment status",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.baseURL, "api", envOr("PAYCHECK_API", "http://localhost:8080"), "payment API base URL")
	rootCmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("PAYCHECK_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().DurationVar(&g.timeout, "http-timeout", 15*time.Second, "per-request timeout")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log every poll")

	rootCmd.AddCommand(mpesaCmd(g))
	rootCmd.AddCommand(waitCmd(g))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, domain.ErrPollTimeout) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func mpesaCmd(g *globalFlags) *cobra.Command {
	var (
		phone string
		tier  string
		poll  pollFlags
	)
	cmd := &cobra.Command{
		Use:   "mpesa",
		Short: "Send an M-PESA STK push for a tier upgrade and wait for the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := model.ParseTier(tier)
			if err != nil {
				return err
			}
			c := client.NewHTTPClient(g.baseURL, g.token, g.timeout)
			id, msg, err := c.InitiateMpesa(cmd.Context(), t, phone)
			if err != nil {
				return err
			}
			fmt.Printf("payment %s: %s\n", id, msg)
			return follow(cmd.Context(), g, c, poll, id)
		},
	}
	cmd.Flags().StringVarP(&phone, "phone", "p", "", "phone number, e.g. 0712345678")
	cmd.Flags().StringVarP(&tier, "tier", "t", string(model.TierSelfAssessment), "target tier")
	_ = cmd.MarkFlagRequired("phone")
	poll.bind(cmd)
	return cmd
}

func waitCmd(g *globalFlags) *cobra.Command {
	var poll pollFlags
	cmd := &cobra.Command{
		Use:   "wait [payment-id]",
		Short: "Poll an existing payment until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewHTTPClient(g.baseURL, g.token, g.timeout)
			return follow(cmd.Context(), g, c, poll, args[0])
		},
	}
	poll.bind(cmd)
	return cmd
}

type pollFlags struct {
	interval time.Duration
	attempts int
}

func (p *pollFlags) bind(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&p.interval, "interval", client.DefaultPollInterval, "time between status checks")
	cmd.Flags().IntVar(&p.attempts, "attempts", client.DefaultMaxAttempts, "status checks before giving up")
}

func follow(ctx context.Context, g *globalFlags, c *client.HTTPClient, pf pollFlags, paymentID string) error {
	level := zerolog.InfoLevel
	if g.verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	p := client.NewPoller(c, &log)
	p.Interval, p.MaxAttempts = pf.interval, pf.attempts
	p.OnTick = func(attempt int, v *usecase.PaymentView) {
		log.Debug().Int("attempt", attempt).Str("status", string(v.Status)).Msg("waiting for confirmation")
	}

	view, err := p.Wait(ctx, paymentID)
	if errors.Is(err, domain.ErrPollTimeout) {
		return fmt.Errorf("payment %s is still pending; check back later: %w", paymentID, err)
	}
	if err != nil {
		return err
	}
	fmt.Printf("payment %s %s: %s %.2f %s\n", view.ID, view.Status, view.Tier, view.Amount, view.Currency)
	if view.Status != model.PaymentStatusCompleted {
		return fmt.Errorf("payment %s did not complete", view.ID)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
