package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bookswap/internal/library"
	"bookswap/internal/models"
	"bookswap/internal/notify"
	"bookswap/internal/storage"
)

// SetTrack records the tracking number of the book memberID sent
func (l *Lifecycle) SetTrack(ctx context.Context, exchangeID, memberID, track string) (models.Exchange, error) {
	track = strings.TrimSpace(track)
	if track == "" {
		return models.Exchange{}, fmt.Errorf("tracking number is empty: %w", models.ErrValidation)
	}
	return l.setTrack(ctx, "set_track", exchangeID, memberID, track)
}

// SetNoTrack records that memberID sent the book without tracking
func (l *Lifecycle) SetNoTrack(ctx context.Context, exchangeID, memberID string) (models.Exchange, error) {
	return l.setTrack(ctx, "set_no_track", exchangeID, memberID, models.NoTrack)
}

func (l *Lifecycle) setTrack(ctx context.Context, op, exchangeID, memberID, value string) (models.Exchange, error) {
	return l.mutate(ctx, op, exchangeID, func(ctx context.Context, tx storage.Storage, ex *models.Exchange, b *notify.Batch) (bool, error) {
		side, err := participant(*ex, memberID)
		if err != nil {
			return false, err
		}
		if err := requireActive(*ex); err != nil {
			return false, err
		}

		if side == 1 {
			ex.Track1 = value
		} else {
			ex.Track2 = value
		}
		b.Record(l.event(*ex, models.EventTrackSet, memberID, map[string]string{notify.KeyTrack: value}))

		if ex.Status == models.ExchangeConfirmed && ex.BothTracked() {
			ex.Status = models.ExchangeInProgress
			if m1, m2, ok := l.members(ctx, tx, *ex); ok {
				b.Add(m1, l.event(*ex, models.EventExchangeInProgress, memberID, map[string]string{
					notify.KeyCounterpart: m2.Name,
					notify.KeyTrack:       ex.Track2,
				}))
				b.Add(m2, l.event(*ex, models.EventExchangeInProgress, memberID, map[string]string{
					notify.KeyCounterpart: m1.Name,
					notify.KeyTrack:       ex.Track1,
				}))
			}
		}
		return true, nil
	})
}

// ReceiveBook records that memberID received the counterpart's book. The
// second confirmation finalizes the exchange; later calls change nothing.
func (l *Lifecycle) ReceiveBook(ctx context.Context, exchangeID, memberID string) (models.Exchange, error) {
	return l.mutate(ctx, "receive_book", exchangeID, func(ctx context.Context, tx storage.Storage, ex *models.Exchange, b *notify.Batch) (bool, error) {
		side, err := participant(*ex, memberID)
		if err != nil {
			return false, err
		}

		already := (side == 1 && ex.Received1) || (side == 2 && ex.Received2)
		if already {
			l.logger.Info("Receipt already confirmed",
				zap.String("exchange_id", ex.ID),
				zap.String("member_id", memberID),
				zap.String("status", string(ex.Status)),
			)
			return false, nil
		}
		if err := requireActive(*ex); err != nil {
			return false, err
		}

		if side == 1 {
			ex.Received1 = true
		} else {
			ex.Received2 = true
		}
		b.Record(l.event(*ex, models.EventBookReceived, memberID, nil))

		if ex.BothReceived() {
			if err := l.finalize(ctx, tx, ex, b); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

// finalize swaps ownership of the two books and completes the exchange.
// The COMPLETED status is the only gate: it runs inside the exchange's
// critical section and transaction, so it cannot run twice.
func (l *Lifecycle) finalize(ctx context.Context, tx storage.Storage, ex *models.Exchange, b *notify.Batch) error {
	if ex.Status == models.ExchangeCompleted {
		return fmt.Errorf("exchange %s already completed: %w", ex.ID, models.ErrState)
	}
	if !ex.BothReceived() {
		return fmt.Errorf("exchange %s awaits receipt confirmation: %w", ex.ID, models.ErrState)
	}

	if err := library.Transfer(ctx, tx, *ex); err != nil {
		return fmt.Errorf("transfer books of exchange %s: %w", ex.ID, err)
	}

	now := l.Now()
	ex.Status = models.ExchangeCompleted
	ex.CompletedAt = &now

	if m1, m2, ok := l.members(ctx, tx, *ex); ok {
		b.Add(m1, l.event(*ex, models.EventExchangeCompleted, "", map[string]string{
			notify.KeyCounterpart: m2.Name,
			notify.KeyBook:        l.bookTitle(ctx, tx, ex.Book2ID),
		}))
		b.Add(m2, l.event(*ex, models.EventExchangeCompleted, "", map[string]string{
			notify.KeyCounterpart: m1.Name,
			notify.KeyBook:        l.bookTitle(ctx, tx, ex.Book1ID),
		}))
	}
	return nil
}

// EligibleFrom returns the start of the day on which an exchange created at
// createdAt may be flagged PROBLEMS.
func (l *Lifecycle) EligibleFrom(createdAt time.Time) time.Time {
	y, m, d := createdAt.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, l.staleAfterDays-1)
}

// IsStale reports whether an exchange created at createdAt is eligible for PROBLEMS now
func (l *Lifecycle) IsStale(createdAt time.Time) bool {
	return !l.Now().Before(l.EligibleFrom(createdAt))
}

// SetProblemsStatus flags an exchange that did not complete in time and
// tells each waiting participant how to reach the stalled one.
func (l *Lifecycle) SetProblemsStatus(ctx context.Context, exchangeID string) (models.Exchange, error) {
	return l.mutate(ctx, "set_problems", exchangeID, func(ctx context.Context, tx storage.Storage, ex *models.Exchange, b *notify.Batch) (bool, error) {
		switch ex.Status {
		case models.ExchangeCompleted, models.ExchangeCancelledByAdmin:
			return false, fmt.Errorf("exchange %s is %s: %w", ex.ID, ex.Status, models.ErrState)
		case models.ExchangeProblems:
			l.logger.Warn("Exchange already has problems status", zap.String("exchange_id", ex.ID))
			return false, nil
		}

		if !l.IsStale(ex.CreatedAt) {
			return false, fmt.Errorf("exchange %s not yet eligible, created %s, eligible from %s: %w",
				ex.ID, ex.CreatedAt.Format(time.DateOnly), l.EligibleFrom(ex.CreatedAt).Format(time.DateOnly), models.ErrState)
		}

		ex.Status = models.ExchangeProblems

		m1, m2, ok := l.members(ctx, tx, *ex)
		if !ok {
			return true, nil
		}
		// Member1 waits for Book2 shipped by Member2, and vice versa.
		if !ex.Received1 {
			b.Add(m1, l.event(*ex, models.EventExchangeProblems, "", map[string]string{
				notify.KeyCounterpart: m2.Name,
				notify.KeyContact:     m2.Email,
				notify.KeyAddress:     ex.Address2.String(),
			}))
		}
		if !ex.Received2 {
			b.Add(m2, l.event(*ex, models.EventExchangeProblems, "", map[string]string{
				notify.KeyCounterpart: m1.Name,
				notify.KeyContact:     m1.Email,
				notify.KeyAddress:     ex.Address1.String(),
			}))
		}
		return true, nil
	})
}

// CancelByAdmin moves a non-terminal exchange to CANCELLED_BY_ADMIN
func (l *Lifecycle) CancelByAdmin(ctx context.Context, exchangeID string) (models.Exchange, error) {
	return l.mutate(ctx, "cancel", exchangeID, func(ctx context.Context, tx storage.Storage, ex *models.Exchange, b *notify.Batch) (bool, error) {
		if ex.Status.Terminal() {
			return false, fmt.Errorf("exchange %s is %s: %w", ex.ID, ex.Status, models.ErrState)
		}

		ex.Status = models.ExchangeCancelledByAdmin
		if m1, m2, ok := l.members(ctx, tx, *ex); ok {
			b.Add(m1, l.event(*ex, models.EventExchangeCancelled, "", map[string]string{notify.KeyCounterpart: m2.Name}))
			b.Add(m2, l.event(*ex, models.EventExchangeCancelled, "", map[string]string{notify.KeyCounterpart: m1.Name}))
		}
		return true, nil
	})
}

// SweepStale flags every eligible CONFIRMED or IN_PROGRESS exchange and
// returns how many were flagged. A failing exchange is logged and skipped;
// the failures are returned joined after the sweep.
func (l *Lifecycle) SweepStale(ctx context.Context) (int, error) {
	var (
		flagged int
		errs    []error
	)
	for _, status := range []models.ExchangeStatus{models.ExchangeConfirmed, models.ExchangeInProgress} {
		exchanges, err := l.db.SearchExchanges(ctx, models.ExchangeFilter{Status: status})
		if err != nil {
			errs = append(errs, fmt.Errorf("list %s exchanges: %w", status, err))
			continue
		}
		for _, ex := range exchanges {
			if !l.IsStale(ex.CreatedAt) {
				continue
			}
			_, err := l.SetProblemsStatus(ctx, ex.ID)
			if errors.Is(err, models.ErrState) {
				continue // completed or cancelled meanwhile
			}
			if err != nil {
				l.logger.Warn("Failed to flag stale exchange",
					zap.Error(err),
					zap.String("exchange_id", ex.ID),
				)
				errs = append(errs, fmt.Errorf("flag exchange %s: %w", ex.ID, err))
				continue
			}
			flagged++
		}
	}
	return flagged, errors.Join(errs...)
}
