// Package reservation owns Reservation records: append-heavy, with narrow
// status transitions. A reservation is created active, completes exactly once
// and never re-enters active; deletion (bulk cancel) is a distinct terminal
// path.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/MichalRedm/distributed-library-system/model"
	"github.com/MichalRedm/distributed-library-system/recordstore"
)

const keyPrefix = "resv/"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrNotFound         = errors.New("reservation not found")
	ErrAlreadyCompleted = errors.New("reservation already completed")
	ErrNotActive        = errors.New("reservation is not active")
	ErrInvalidDeadline  = errors.New("return deadline before reservation date")
)

// Transition CAS attempts. Reservation records are only contended when a
// client retry races the original request, so one re-read is nearly always
// enough.
const maxTransitionAttempts = 3

type CreateParams struct {
	UserID          string
	BookID          string
	UserName        string
	BookTitle       string
	ReservationDate time.Time
	ReturnDeadline  time.Time
}

type Repo interface {
	CreateActive(ctx context.Context, p CreateParams) (*model.Reservation, error)
	Get(ctx context.Context, reservationID string) (*model.Reservation, error)
	MarkCompleted(ctx context.Context, reservationID string) (*model.Reservation, error)
	ExtendDeadline(ctx context.Context, reservationID string, newDeadline time.Time) (*model.Reservation, error)
	ListByUser(ctx context.Context, userID string) ([]model.Reservation, error)
	ListByBook(ctx context.Context, bookID string) ([]model.Reservation, error)
	ListAll(ctx context.Context) ([]model.Reservation, error)
	Delete(ctx context.Context, reservationID string) (*model.Reservation, bool, error)
}

type repo struct {
	store recordstore.Store
}

func New(store recordstore.Store) Repo { return &repo{store: store} }

func (r *repo) CreateActive(ctx context.Context, p CreateParams) (*model.Reservation, error) {
	if p.ReturnDeadline.Before(p.ReservationDate) {
		return nil, ErrInvalidDeadline
	}

	now := time.Now().UTC()
	resv := &model.Reservation{
		ReservationID:   uuid.NewString(),
		UserID:          p.UserID,
		BookID:          p.BookID,
		UserName:        p.UserName,
		BookTitle:       p.BookTitle,
		Status:          model.ReservationActive,
		ReservationDate: p.ReservationDate,
		ReturnDeadline:  p.ReturnDeadline,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	value, err := json.Marshal(resv)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.InsertIfAbsent(ctx, keyPrefix+resv.ReservationID, value); err != nil {
		// Freshly generated UUIDs never collide; any failure here is storage.
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	return resv, nil
}

func (r *repo) Get(ctx context.Context, reservationID string) (*model.Reservation, error) {
	resv, _, err := r.getWithVersion(ctx, reservationID)
	return resv, err
}

// MarkCompleted transitions active -> completed. Completed reservations are
// immutable; a second call reports ErrAlreadyCompleted so the caller can treat
// the retry as an idempotent no-op.
func (r *repo) MarkCompleted(ctx context.Context, reservationID string) (*model.Reservation, error) {
	var lastErr error
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		resv, version, err := r.getWithVersion(ctx, reservationID)
		if err != nil {
			return nil, err
		}
		if resv.Status == model.ReservationCompleted {
			return resv, ErrAlreadyCompleted
		}

		resv.Status = model.ReservationCompleted
		resv.UpdatedAt = time.Now().UTC()

		updated, err := r.casPut(ctx, resv, version)
		if errors.Is(err, recordstore.ErrVersionMismatch) {
			lastErr = err
			continue // re-read and re-check status
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, lastErr
}

func (r *repo) ExtendDeadline(ctx context.Context, reservationID string, newDeadline time.Time) (*model.Reservation, error) {
	var lastErr error
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		resv, version, err := r.getWithVersion(ctx, reservationID)
		if err != nil {
			return nil, err
		}
		if resv.Status != model.ReservationActive {
			return nil, ErrNotActive
		}
		if newDeadline.Before(resv.ReservationDate) {
			return nil, ErrInvalidDeadline
		}

		resv.ReturnDeadline = newDeadline
		resv.UpdatedAt = time.Now().UTC()

		updated, err := r.casPut(ctx, resv, version)
		if errors.Is(err, recordstore.ErrVersionMismatch) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, lastErr
}

func (r *repo) ListByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	return r.list(ctx, func(resv *model.Reservation) bool { return resv.UserID == userID })
}

func (r *repo) ListByBook(ctx context.Context, bookID string) ([]model.Reservation, error) {
	return r.list(ctx, func(resv *model.Reservation) bool { return resv.BookID == bookID })
}

func (r *repo) ListAll(ctx context.Context) ([]model.Reservation, error) {
	return r.list(ctx, func(*model.Reservation) bool { return true })
}

// Delete removes the record and reports what it held, so the caller can
// restore book availability for reservations that were still active. Missing
// ids are not an error, matching an idempotent bulk-delete contract.
func (r *repo) Delete(ctx context.Context, reservationID string) (*model.Reservation, bool, error) {
	resv, _, err := r.getWithVersion(ctx, reservationID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	found, err := r.store.Delete(ctx, keyPrefix+reservationID)
	if err != nil {
		return nil, false, err
	}
	return resv, found, nil
}

func (r *repo) getWithVersion(ctx context.Context, reservationID string) (*model.Reservation, int64, error) {
	rec, err := r.store.Get(ctx, keyPrefix+reservationID)
	if errors.Is(err, recordstore.ErrKeyNotFound) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	var resv model.Reservation
	if err := json.Unmarshal(rec.Value, &resv); err != nil {
		return nil, 0, err
	}
	return &resv, rec.Version, nil
}

func (r *repo) casPut(ctx context.Context, resv *model.Reservation, expectedVersion int64) (*model.Reservation, error) {
	value, err := json.Marshal(resv)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.CompareAndSet(ctx, keyPrefix+resv.ReservationID, expectedVersion, value); err != nil {
		if errors.Is(err, recordstore.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return resv, nil
}

func (r *repo) list(ctx context.Context, keep func(*model.Reservation) bool) ([]model.Reservation, error) {
	recs, err := r.store.Scan(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]model.Reservation, 0, len(recs))
	for _, rec := range recs {
		var resv model.Reservation
		if err := json.Unmarshal(rec.Value, &resv); err != nil {
			return nil, err
		}
		if keep(&resv) {
			out = append(out, resv)
		}
	}
	return out, nil
}
