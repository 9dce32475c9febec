package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"prompos/terminal/internal/domain"
	"prompos/terminal/internal/store"
)

var ErrReservationFailed = errors.New("invoice reservation failed")

// ReservationError reports a reservation that did not commit. It matches
// both ErrReservationFailed and the underlying cause under errors.Is.
type ReservationError struct {
	ShopID string
	Err    error
}

func (e *ReservationError) Error() string {
	return fmt.Sprintf("reserve invoice number for %s: %v", e.ShopID, e.Err)
}

func (e *ReservationError) Unwrap() []error {
	return []error{ErrReservationFailed, e.Err}
}

type Observer interface {
	ObserveReservation(duration time.Duration, err error)
}

// Sequencer hands out per-shop invoice numbers from the shop counter document.
type Sequencer struct {
	repo     store.Repository
	shopName string
	observer Observer
	now      func() time.Time
}

type Option func(*Sequencer)

func WithShopName(name string) Option {
	return func(s *Sequencer) { s.shopName = name }
}

func WithObserver(o Observer) Option {
	return func(s *Sequencer) { s.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

func NewSequencer(repo store.Repository, opts ...Option) *Sequencer {
	s := &Sequencer{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve atomically increments the shop counter and returns the new value.
// A missing counter starts at zero and is created in the same transaction.
// Failures are not retried.
func (s *Sequencer) Reserve(ctx context.Context, shopID string) (int64, error) {
	if strings.TrimSpace(shopID) == "" {
		return 0, &ReservationError{ShopID: shopID, Err: errors.New("empty shop id")}
	}

	started := s.now()
	var next int64
	err := s.repo.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		counter, err := tx.GetCounter(ctx, shopID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			counter = &domain.ShopCounter{ShopID: shopID, ShopName: s.shopName}
		case err != nil:
			return err
		}
		if counter.ShopName == "" {
			counter.ShopName = s.shopName
		}

		next = counter.LastSequence + 1
		counter.LastSequence = next
		counter.UpdatedAt = s.now()
		return tx.SetCounter(ctx, *counter)
	})
	if s.observer != nil {
		s.observer.ObserveReservation(s.now().Sub(started), err)
	}
	if err != nil {
		return 0, &ReservationError{ShopID: shopID, Err: err}
	}
	return next, nil
}

// FormatID renders <shopId>-<yy><6-digit sequence>.
func FormatID(shopID string, year int, seq int64) string {
	return fmt.Sprintf("%s-%02d%06d", shopID, year%100, seq)
}
