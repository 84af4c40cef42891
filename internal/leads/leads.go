// Package leads looks up the category and value of a customer's lead from
// the leads service.
package leads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/logging"
	"go.uber.org/zap"
)

type Provider interface {
	GetLead(ctx context.Context, leadID string) (domain.Lead, error)
}

// Static serves leads from memory.
type Static struct {
	mu    sync.RWMutex
	leads map[string]domain.Lead
}

func NewStatic(leads ...domain.Lead) *Static {
	s := &Static{leads: make(map[string]domain.Lead, len(leads))}
	for _, l := range leads {
		s.leads[l.ID] = l
	}
	return s
}

func (s *Static) Put(l domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[l.ID] = l
}

func (s *Static) GetLead(_ context.Context, leadID string) (domain.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[leadID]
	if !ok {
		return domain.Lead{}, domain.NotFoundf("lead %s", leadID)
	}
	return l, nil
}

// Retrying wraps a provider with a bounded exponential backoff so lookups
// fail fast when the leads service is down. Not-found answers are final.
type Retrying struct {
	log      *logging.Logger
	next     Provider
	attempts uint64
	timeout  time.Duration
	interval time.Duration
}

func NewRetrying(log *logging.Logger, next Provider, attempts uint64, timeout time.Duration) *Retrying {
	return &Retrying{
		log:      log.Named("leads"),
		next:     next,
		attempts: attempts,
		timeout:  timeout,
		interval: 100 * time.Millisecond,
	}
}

func (r *Retrying) GetLead(ctx context.Context, leadID string) (domain.Lead, error) {
	var lead domain.Lead
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		l, err := r.next.GetLead(attemptCtx, leadID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
				return backoff.Permanent(err)
			}
			r.log.Warn("lead lookup failed", zap.String("lead-id", leadID), zap.Error(err))
			return err
		}
		lead = l
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.interval
	bo.MaxElapsedTime = 0
	retries := uint64(0)
	if r.attempts > 1 {
		retries = r.attempts - 1
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx)); err != nil {
		return domain.Lead{}, fmt.Errorf("could not look up lead %s: %w", leadID, err)
	}
	return lead, nil
}
