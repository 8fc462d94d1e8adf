// Package currency holds the exchange-rate snapshot and the conversion
// engine every pricing path depends on.
package currency

import (
	"context"
	"sync"
	"time"

	"github.com/dukerupert/skadi/internal/domain"
	"github.com/dukerupert/skadi/internal/repository"
)

// Store holds the current exchange-rate snapshot. The snapshot is replaced
// wholesale under the write lock so readers never observe a half-updated
// rate set; the rate-update job that feeds the underlying table is outside
// this core.
type Store struct {
	repo repository.Querier

	mu   sync.RWMutex
	byCode map[string]domain.Currency
	base   string
}

// NewStore creates an empty rate store. Call Reload before first use.
func NewStore(repo repository.Querier) *Store {
	return &Store{
		repo:   repo,
		byCode: make(map[string]domain.Currency),
	}
}

// Reload reads all active currencies and swaps in a fresh snapshot.
// Exactly one active base currency must exist.
func (s *Store) Reload(ctx context.Context) error {
	currencies, err := s.repo.ListActiveCurrencies(ctx)
	if err != nil {
		return domain.Internal(err, "rates.reload", "failed to load active currencies")
	}

	byCode := make(map[string]domain.Currency, len(currencies))
	base := ""
	for _, c := range currencies {
		c.Code = domain.CanonicalCurrencyCode(c.Code)
		byCode[c.Code] = c
		if c.IsBase {
			if base != "" {
				return domain.Errorf(domain.EINTERNAL, "rates.reload", "multiple base currencies: %s and %s", base, c.Code)
			}
			base = c.Code
		}
	}
	if base == "" {
		return domain.ErrNoBaseCurrency
	}

	s.mu.Lock()
	s.byCode = byCode
	s.base = base
	s.mu.Unlock()

	return nil
}

// Lookup returns the currency for a code, canonicalized, if it is active
// in the current snapshot.
func (s *Store) Lookup(code string) (domain.Currency, bool) {
	code = domain.CanonicalCurrencyCode(code)

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byCode[code]
	if !ok || !c.IsActive {
		return domain.Currency{}, false
	}
	return c, true
}

// BaseCode returns the code of the active base currency, or "" before the
// first successful Reload.
func (s *Store) BaseCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

// SetSnapshot replaces the snapshot directly. Test seam; production code
// goes through Reload.
func (s *Store) SetSnapshot(currencies []domain.Currency) {
	byCode := make(map[string]domain.Currency, len(currencies))
	base := ""
	for _, c := range currencies {
		c.Code = domain.CanonicalCurrencyCode(c.Code)
		byCode[c.Code] = c
		if c.IsBase {
			base = c.Code
		}
	}

	s.mu.Lock()
	s.byCode = byCode
	s.base = base
	s.mu.Unlock()
}

// Refresh runs Reload on a ticker until the context is cancelled. Reload
// failures keep the previous snapshot; conversion staleness checks catch
// rates that stop updating.
func (s *Store) Refresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Reload(ctx)
		}
	}
}
