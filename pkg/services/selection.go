package services

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/models"
	"github.com/classml-io/classml-engine/pkg/repositories"
)

// CredentialEligible reports whether a credential may be offered to a
// training request at the given instant. Pooled credentials are skipped
// while their LastFail sits in the future: capacity rejections push the
// timestamp roughly a day ahead, and freeing a model pulls it back, so
// this one comparison is the whole backoff policy.
func CredentialEligible(creds *models.Credentials, now time.Time) bool {
	if !creds.Pooled {
		return true
	}
	return !creds.LastFail.After(now)
}

// CredentialsSelector produces the ordered candidate list a training
// request walks through.
type CredentialsSelector struct {
	creds  repositories.CredentialsRepository
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewCredentialsSelector creates a selector. The random source is injected
// so tests can fix the shuffle order; pass rand.New(rand.NewSource(...)).
func NewCredentialsSelector(creds repositories.CredentialsRepository, rng *rand.Rand, logger *zap.Logger) *CredentialsSelector {
	return &CredentialsSelector{
		creds:  creds,
		rng:    rng,
		logger: logger.Named("credentials-selector"),
	}
}

// Candidates returns the credentials a training request for the given class
// and service should try, in the order to try them.
//
// Classes bringing their own API keys get their full list; managed-pool
// classes get the shared pool batch minus any keys still in backoff. Either
// way the result is shuffled, so concurrent requests across classes do not
// all hammer the same key.
func (s *CredentialsSelector) Candidates(ctx context.Context, tenant *models.ClassTenant, service models.ServiceType) ([]*models.Credentials, error) {
	if tenant.TenantType == models.TenantOwnCredentials {
		owned, err := s.creds.GetForClass(ctx, tenant.ID, service)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch class credentials: %w", err)
		}
		s.shuffle(owned)
		return owned, nil
	}

	pool, err := s.creds.GetPoolBatch(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch credentials pool: %w", err)
	}

	now := time.Now()
	candidates := make([]*models.Credentials, 0, len(pool))
	for _, c := range pool {
		if CredentialEligible(c, now) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) < len(pool) {
		s.logger.Debug("Skipped pool credentials in backoff",
			zap.String("service_type", string(service)),
			zap.Int("skipped", len(pool)-len(candidates)))
	}
	s.shuffle(candidates)
	return candidates, nil
}

func (s *CredentialsSelector) shuffle(creds []*models.Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Shuffle(len(creds), func(i, j int) {
		creds[i], creds[j] = creds[j], creds[i]
	})
}
