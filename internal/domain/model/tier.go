package model

import (
	"fmt"
	"strings"

	"daraja-payments/internal/domain"
)

// Tier is an organization service level. Tiers are strictly ordered.
type Tier string

const (
	TierBasicFree      Tier = "BASIC_FREE"
	TierSelfAssessment Tier = "SELF_ASSESSMENT"
	TierDarajaVerified Tier = "DARAJA_VERIFIED"
)

type Currency string

const (
	CurrencyKES Currency = "KES"
	CurrencyUSD Currency = "USD"
)

type tierInfo struct {
	rank  int
	price map[Currency]int64 // minor units
}

var catalog = map[Tier]tierInfo{
	TierBasicFree:      {rank: 0, price: map[Currency]int64{CurrencyKES: 0, CurrencyUSD: 0}},
	TierSelfAssessment: {rank: 1, price: map[Currency]int64{CurrencyKES: 5000_00, CurrencyUSD: 39_00}},
	TierDarajaVerified: {rank: 2, price: map[Currency]int64{CurrencyKES: 15000_00, CurrencyUSD: 115_00}},
}

// Tiers lists every tier in ascending order.
func Tiers() []Tier {
	return []Tier{TierBasicFree, TierSelfAssessment, TierDarajaVerified}
}

// Currencies lists every currency a tier is priced in.
func Currencies() []Currency {
	return []Currency{CurrencyKES, CurrencyUSD}
}

// ParseTier validates a tier name coming from outside the process.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := catalog[t]; !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidTier, s)
	}
	return t, nil
}

func (t Tier) info() tierInfo {
	info, ok := catalog[t]
	if !ok {
		panic(fmt.Sprintf("model: unknown tier %q", string(t)))
	}
	return info
}

// Rank returns the tier's position in the ordering; BASIC_FREE is 0.
func (t Tier) Rank() int { return t.info().rank }

// Price returns the tier price in minor units of the currency.
// Zero means the tier cannot be bought in that currency.
func Price(t Tier, c Currency) int64 {
	return t.info().price[c]
}

// IsUpgrade reports whether target ranks strictly above current.
func IsUpgrade(current, target Tier) bool {
	return target.Rank() > current.Rank()
}

// MajorUnits renders minor units as a decimal amount, e.g. 3900 -> 39.00.
func MajorUnits(minor int64) float64 {
	return float64(minor) / 100
}

const kesToUSDRate = 0.0077

// ConvertKESToUSD approximates a USD amount for a KES amount, both in minor units.
func ConvertKESToUSD(kesMinor int64) int64 {
	usd := float64(kesMinor) * kesToUSDRate
	return int64(usd + 0.5)
}
