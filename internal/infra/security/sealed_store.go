package security

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"daraja-payments/internal/domain/ports/repository"
)

var _ repository.KeyValueStore = (*SealedStore)(nil)

// SealedStore encrypts values before they reach the wrapped store. The key
// name is bound as additional data so a value cannot be replayed under
// another key.
type SealedStore struct {
	next repository.KeyValueStore
	enc  *EncryptionService
	log  *zerolog.Logger
}

func NewSealedStore(next repository.KeyValueStore, enc *EncryptionService, logger *zerolog.Logger) *SealedStore {
	lg := logger.With().Str("component", "sealed_store").Logger()
	return &SealedStore{next: next, enc: enc, log: &lg}
}

func (s *SealedStore) Get(ctx context.Context, key string) (string, bool, error) {
	raw, found, err := s.next.Get(ctx, key)
	if err != nil || !found {
		return "", found, err
	}
	val, err := s.enc.Decrypt(raw, []byte(key))
	if err != nil {
		// unreadable entries (key rotation, plaintext left by an older
		// deploy) are dropped and reported as a miss
		s.log.Warn().Err(err).Str("key", key).Msg("discarding unreadable cache entry")
		if evErr := s.next.Evict(ctx, key); evErr != nil {
			s.log.Warn().Err(evErr).Str("key", key).Msg("evict failed")
		}
		return "", false, nil
	}
	return val, true, nil
}

func (s *SealedStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	sealed, err := s.enc.Encrypt(value, []byte(key))
	if err != nil {
		return err
	}
	return s.next.Set(ctx, key, sealed, ttl)
}

func (s *SealedStore) Evict(ctx context.Context, key string) error {
	return s.next.Evict(ctx, key)
}
