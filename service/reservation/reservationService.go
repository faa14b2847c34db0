// Package reservation implements the reservation coordinator: the only code
// path that mutates books and reservations together. It sequences conditional
// writes across the book registry and the reservation ledger so that at most
// one active reservation exists per book, without any global lock. The
// per-book CAS is the single serialization point; everything else runs in
// parallel.
package reservation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MichalRedm/distributed-library-system/model"
	"github.com/MichalRedm/distributed-library-system/notify"
	bookrepo "github.com/MichalRedm/distributed-library-system/repository/book"
	resvrepo "github.com/MichalRedm/distributed-library-system/repository/reservation"
	userrepo "github.com/MichalRedm/distributed-library-system/repository/user"
)

// DefaultLoanPeriod is applied when a checkout does not carry an explicit
// return deadline.
const DefaultLoanPeriod = 14 * 24 * time.Hour

// errors used by controllers

type ErrCode string

const (
	ErrBookNotFound         ErrCode = "BOOK_NOT_FOUND"
	ErrUserNotFound         ErrCode = "USER_NOT_FOUND"
	ErrReservationNotFound  ErrCode = "RESERVATION_NOT_FOUND"
	ErrUnavailable          ErrCode = "BOOK_UNAVAILABLE"
	ErrDuplicateReservation ErrCode = "DUPLICATE_RESERVATION"
	ErrInvalidState         ErrCode = "INVALID_STATE"
	ErrRepairNeeded         ErrCode = "REPAIR_NEEDED"
)

type codedError struct{ code ErrCode }

func (e codedError) Error() string { return string(e.code) }
func (e codedError) Code() ErrCode { return e.code }
func makeErr(c ErrCode) error      { return codedError{code: c} }

// Code extracts the error code, or "" for uncoded errors.
func Code(err error) ErrCode {
	var ce interface{ Code() ErrCode }
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return ""
}

type BulkResult struct {
	CancelledCount int `json:"cancelled_count"`
	TotalRequested int `json:"total_requested"`
}

// writeTracker is the hook the reconciler uses to learn about write activity.
type writeTracker interface {
	MarkWrite()
}

type Service interface {
	// Checkout creates an active reservation for (user, book), flipping the
	// book to checked_out. Concurrent checkouts on the same book race on a
	// single CAS; exactly one wins.
	Checkout(ctx context.Context, userID, bookID string) (*model.Reservation, error)

	// Return marks the reservation completed and restores availability.
	// Returning an already-completed reservation is an idempotent success.
	Return(ctx context.Context, reservationID string) (*model.Reservation, error)

	// Extend moves the return deadline of an active reservation. The book is
	// never touched.
	Extend(ctx context.Context, reservationID string, newDeadline time.Time) (*model.Reservation, error)

	// BulkCancel deletes the given reservations, restoring availability for
	// those that were still active. Missing ids are skipped, not errors.
	BulkCancel(ctx context.Context, reservationIDs []string) (*BulkResult, error)

	// Reads bypass the coordinator logic and go straight to the ledger.
	Get(ctx context.Context, reservationID string) (*model.Reservation, error)
	ListByUser(ctx context.Context, userID string) ([]model.Reservation, error)
	ListByBook(ctx context.Context, bookID string) ([]model.Reservation, error)
}

type service struct {
	books    bookrepo.Repo
	users    userrepo.Repo
	ledger   resvrepo.Repo
	notifier notify.Notifier
	log      *slog.Logger
	tracker  writeTracker
}

func New(books bookrepo.Repo, users userrepo.Repo, ledger resvrepo.Repo, notifier notify.Notifier, log *slog.Logger) Service {
	return &service{books: books, users: users, ledger: ledger, notifier: notifier, log: log}
}

// NewWithTracker additionally reports write activity to the reconciler.
func NewWithTracker(books bookrepo.Repo, users userrepo.Repo, ledger resvrepo.Repo, notifier notify.Notifier, log *slog.Logger, tracker writeTracker) Service {
	return &service{books: books, users: users, ledger: ledger, notifier: notifier, log: log, tracker: tracker}
}

func (s *service) Checkout(ctx context.Context, userID, bookID string) (*model.Reservation, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil, makeErr(ErrUserNotFound)
		}
		return nil, err
	}

	book, version, err := s.books.Get(ctx, bookID)
	if err != nil {
		if errors.Is(err, bookrepo.ErrNotFound) {
			return nil, makeErr(ErrBookNotFound)
		}
		return nil, err
	}

	// Fast path: the read is advisory only, but a book already checked out
	// needs no write attempt.
	if book.Status != model.BookAvailable {
		return nil, makeErr(ErrUnavailable)
	}

	if err := s.checkNoDuplicate(ctx, userID, bookID); err != nil {
		return nil, err
	}

	// Serialization point. Of N concurrent checkouts holding the same
	// observed version, the store lets exactly one through.
	newVersion, err := s.books.TrySetCheckedOut(ctx, bookID, version)
	if err != nil {
		if errors.Is(err, bookrepo.ErrConflict) {
			s.log.Info("checkout lost race", "book_id", bookID, "user_id", userID)
			return nil, makeErr(ErrUnavailable)
		}
		if errors.Is(err, bookrepo.ErrNotFound) {
			return nil, makeErr(ErrBookNotFound)
		}
		return nil, err
	}

	now := time.Now().UTC()
	resv, err := s.ledger.CreateActive(ctx, resvrepo.CreateParams{
		UserID:          userID,
		BookID:          bookID,
		UserName:        user.Username,
		BookTitle:       book.Title,
		ReservationDate: now,
		ReturnDeadline:  now.Add(DefaultLoanPeriod),
	})
	if err != nil {
		return nil, s.rollbackCheckout(ctx, bookID, userID, newVersion, err)
	}

	s.markWrite()
	s.invalidate(model.KindBook, bookID)
	s.invalidate(model.KindUser, userID)
	return resv, nil
}

// rollbackCheckout undoes the book flip after a failed ledger insert. If the
// rollback CAS also fails the book shows checked_out with no active
// reservation: that violation must be surfaced distinctly so the reconciler
// or an operator can restore consistency, never swallowed.
func (s *service) rollbackCheckout(ctx context.Context, bookID, userID string, bookVersion int64, cause error) error {
	if _, rbErr := s.books.TrySetAvailable(ctx, bookID, bookVersion); rbErr != nil {
		s.log.Error("repair needed: book flipped but ledger write failed",
			"book_id", bookID,
			"user_id", userID,
			"ledger_err", cause.Error(),
			"rollback_err", rbErr.Error(),
			"at", time.Now().UTC(),
		)
		s.markWrite()
		return makeErr(ErrRepairNeeded)
	}
	s.log.Warn("checkout rolled back after ledger failure",
		"book_id", bookID, "user_id", userID, "err", cause.Error())
	return cause
}

func (s *service) checkNoDuplicate(ctx context.Context, userID, bookID string) error {
	existing, err := s.ledger.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	for i := range existing {
		if existing[i].BookID == bookID && existing[i].Status == model.ReservationActive {
			return makeErr(ErrDuplicateReservation)
		}
	}
	return nil
}

func (s *service) Return(ctx context.Context, reservationID string) (*model.Reservation, error) {
	resv, err := s.ledger.Get(ctx, reservationID)
	if err != nil {
		if errors.Is(err, resvrepo.ErrNotFound) {
			return nil, makeErr(ErrReservationNotFound)
		}
		return nil, err
	}
	// Idempotent: a retried return reports success without touching the book.
	if resv.Status == model.ReservationCompleted {
		return resv, nil
	}

	done, err := s.ledger.MarkCompleted(ctx, reservationID)
	if err != nil {
		if errors.Is(err, resvrepo.ErrAlreadyCompleted) {
			return done, nil
		}
		if errors.Is(err, resvrepo.ErrNotFound) {
			return nil, makeErr(ErrReservationNotFound)
		}
		return nil, err
	}

	s.freeBook(ctx, done.BookID, done.ReservationID)
	s.markWrite()
	s.invalidate(model.KindBook, done.BookID)
	s.invalidate(model.KindUser, done.UserID)
	s.invalidate(model.KindReservation, done.ReservationID)
	return done, nil
}

// freeBook flips the book back to available, but only relative to the current
// active reservation: if another active reservation already references the
// book (a repair inconsistency), the flip is skipped and logged instead of
// overwriting someone else's checkout.
func (s *service) freeBook(ctx context.Context, bookID, completedReservationID string) {
	book, version, err := s.books.Get(ctx, bookID)
	if err != nil {
		s.log.Error("free book: read failed", "book_id", bookID, "err", err.Error())
		return
	}
	if book.Status != model.BookCheckedOut {
		return
	}

	actives, err := s.ledger.ListByBook(ctx, bookID)
	if err != nil {
		s.log.Error("free book: ledger read failed", "book_id", bookID, "err", err.Error())
		return
	}
	for i := range actives {
		if actives[i].Status == model.ReservationActive && actives[i].ReservationID != completedReservationID {
			s.log.Warn("free book skipped: another active reservation holds the book",
				"book_id", bookID,
				"holder_reservation_id", actives[i].ReservationID)
			return
		}
	}

	if _, err := s.books.TrySetAvailable(ctx, bookID, version); err != nil {
		// Cannot happen while this reservation was the single active holder;
		// if it does, the reconciler owns the repair.
		s.log.Warn("free book CAS lost, leaving status for reconciliation",
			"book_id", bookID, "err", err.Error())
	}
}

func (s *service) Extend(ctx context.Context, reservationID string, newDeadline time.Time) (*model.Reservation, error) {
	resv, err := s.ledger.ExtendDeadline(ctx, reservationID, newDeadline)
	if err != nil {
		switch {
		case errors.Is(err, resvrepo.ErrNotFound):
			return nil, makeErr(ErrReservationNotFound)
		case errors.Is(err, resvrepo.ErrNotActive), errors.Is(err, resvrepo.ErrInvalidDeadline):
			return nil, makeErr(ErrInvalidState)
		default:
			return nil, err
		}
	}

	s.markWrite()
	s.invalidate(model.KindUser, resv.UserID)
	s.invalidate(model.KindReservation, resv.ReservationID)
	return resv, nil
}

func (s *service) BulkCancel(ctx context.Context, reservationIDs []string) (*BulkResult, error) {
	result := &BulkResult{TotalRequested: len(reservationIDs)}

	for _, id := range reservationIDs {
		resv, found, err := s.ledger.Delete(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		result.CancelledCount++

		// Cancelling an active reservation restores availability exactly
		// like a return; a completed one must not touch the book.
		if resv.Status == model.ReservationActive {
			s.freeBook(ctx, resv.BookID, resv.ReservationID)
			s.invalidate(model.KindBook, resv.BookID)
		}
		s.invalidate(model.KindUser, resv.UserID)
		s.invalidate(model.KindReservation, resv.ReservationID)
	}

	if result.CancelledCount > 0 {
		s.markWrite()
	}
	return result, nil
}

func (s *service) Get(ctx context.Context, reservationID string) (*model.Reservation, error) {
	resv, err := s.ledger.Get(ctx, reservationID)
	if errors.Is(err, resvrepo.ErrNotFound) {
		return nil, makeErr(ErrReservationNotFound)
	}
	return resv, err
}

func (s *service) ListByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	return s.ledger.ListByUser(ctx, userID)
}

func (s *service) ListByBook(ctx context.Context, bookID string) ([]model.Reservation, error) {
	return s.ledger.ListByBook(ctx, bookID)
}

func (s *service) invalidate(kind model.EntityKind, id string) {
	if s.notifier != nil {
		s.notifier.Invalidate(model.Invalidation{Kind: kind, ID: id})
	}
}

func (s *service) markWrite() {
	if s.tracker != nil {
		s.tracker.MarkWrite()
	}
}
