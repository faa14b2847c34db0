package reservation

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MichalRedm/distributed-library-system/model"
	"github.com/MichalRedm/distributed-library-system/notify"
	bookrepo "github.com/MichalRedm/distributed-library-system/repository/book"
	resvrepo "github.com/MichalRedm/distributed-library-system/repository/reservation"
)

// Report summarizes one reconciliation pass.
type Report struct {
	DuplicatesFixed  int
	BookStatusFixed  int
	ReservationCount int
	BookCount        int
}

// Reconciler restores invariant I1 after partial failures: a book is
// checked_out iff exactly one active reservation references it. It runs only
// after write activity followed by a quiet period, so it never races a
// healthy in-flight operation.
type Reconciler struct {
	books    bookrepo.Repo
	ledger   resvrepo.Repo
	notifier notify.Notifier
	log      *slog.Logger

	interval time.Duration
	quiet    time.Duration

	mu        sync.Mutex
	lastWrite time.Time
	lastCheck time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewReconciler(books bookrepo.Repo, ledger resvrepo.Repo, notifier notify.Notifier, log *slog.Logger, interval, quiet time.Duration) *Reconciler {
	return &Reconciler{
		books:    books,
		ledger:   ledger,
		notifier: notifier,
		log:      log,
		interval: interval,
		quiet:    quiet,
	}
}

// MarkWrite records that a mutation happened; the next check waits for the
// quiet period to elapse first.
func (r *Reconciler) MarkWrite() {
	r.mu.Lock()
	r.lastWrite = time.Now().UTC()
	r.mu.Unlock()
}

// Start launches the background loop. Stop cancels it and waits for exit.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.log.Info("reconciler started",
			"interval", r.interval.String(), "quiet_period", r.quiet.String())
		for {
			select {
			case <-ctx.Done():
				r.log.Info("reconciler stopped")
				return
			case <-ticker.C:
				if r.due() {
					if _, err := r.RunCheck(ctx); err != nil {
						r.log.Error("consistency check failed", "err", err.Error())
					}
					r.mu.Lock()
					r.lastCheck = time.Now().UTC()
					r.mu.Unlock()
				}
			}
		}
	}()
}

func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Reconciler) due() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastWrite.After(r.lastCheck) {
		return false
	}
	return time.Since(r.lastWrite) >= r.quiet
}

// RunCheck loads a full snapshot and repairs what it finds. Repairs use the
// same CAS discipline as regular writers, so a concurrent mutation wins over
// a stale repair.
func (r *Reconciler) RunCheck(ctx context.Context) (Report, error) {
	var report Report

	reservations, err := r.ledger.ListAll(ctx)
	if err != nil {
		return report, err
	}
	books, err := r.books.List(ctx, false)
	if err != nil {
		return report, err
	}
	report.ReservationCount = len(reservations)
	report.BookCount = len(books)

	activeByBook := make(map[string][]model.Reservation)
	for _, resv := range reservations {
		if resv.Status == model.ReservationActive {
			activeByBook[resv.BookID] = append(activeByBook[resv.BookID], resv)
		}
	}

	report.DuplicatesFixed = r.fixDuplicateActives(ctx, activeByBook)
	report.BookStatusFixed = r.syncBookStatuses(ctx, books, activeByBook)

	if report.DuplicatesFixed > 0 || report.BookStatusFixed > 0 {
		r.log.Warn("consistency check repaired state",
			"duplicates_fixed", report.DuplicatesFixed,
			"book_statuses_fixed", report.BookStatusFixed)
	} else {
		r.log.Info("consistency check clean",
			"reservations", report.ReservationCount, "books", report.BookCount)
	}
	return report, nil
}

// fixDuplicateActives enforces I2: where several active reservations
// reference one book, the earliest by reservation date survives and the rest
// are completed.
func (r *Reconciler) fixDuplicateActives(ctx context.Context, activeByBook map[string][]model.Reservation) int {
	fixed := 0
	for bookID, actives := range activeByBook {
		if len(actives) <= 1 {
			continue
		}
		r.log.Warn("duplicate active reservations detected",
			"book_id", bookID, "count", len(actives))

		sort.Slice(actives, func(i, j int) bool {
			return actives[i].ReservationDate.Before(actives[j].ReservationDate)
		})
		for _, loser := range actives[1:] {
			if _, err := r.ledger.MarkCompleted(ctx, loser.ReservationID); err != nil {
				r.log.Error("failed to complete duplicate reservation",
					"reservation_id", loser.ReservationID, "err", err.Error())
				continue
			}
			r.invalidate(model.KindReservation, loser.ReservationID)
			r.invalidate(model.KindUser, loser.UserID)
			fixed++
		}
		activeByBook[bookID] = actives[:1]
	}
	return fixed
}

// syncBookStatuses enforces I1: book status must agree with the presence of
// an active reservation.
func (r *Reconciler) syncBookStatuses(ctx context.Context, books []model.Book, activeByBook map[string][]model.Reservation) int {
	fixed := 0
	for _, book := range books {
		hasActive := len(activeByBook[book.BookID]) > 0
		wantCheckedOut := hasActive && book.Status != model.BookCheckedOut
		wantAvailable := !hasActive && book.Status != model.BookAvailable
		if !wantCheckedOut && !wantAvailable {
			continue
		}

		// Re-read for a fresh version; listing carries no version tokens.
		current, version, err := r.books.Get(ctx, book.BookID)
		if err != nil {
			r.log.Error("repair read failed", "book_id", book.BookID, "err", err.Error())
			continue
		}

		var casErr error
		switch {
		case hasActive && current.Status != model.BookCheckedOut:
			r.log.Warn("book should be checked_out",
				"book_id", book.BookID, "title", book.Title, "status", current.Status)
			_, casErr = r.books.TrySetCheckedOut(ctx, book.BookID, version)
		case !hasActive && current.Status != model.BookAvailable:
			r.log.Warn("book should be available",
				"book_id", book.BookID, "title", book.Title, "status", current.Status)
			_, casErr = r.books.TrySetAvailable(ctx, book.BookID, version)
		default:
			continue // a concurrent writer already fixed it
		}

		if casErr != nil {
			r.log.Warn("repair CAS lost, will retry next pass",
				"book_id", book.BookID, "err", casErr.Error())
			continue
		}
		r.invalidate(model.KindBook, book.BookID)
		fixed++
	}
	return fixed
}

func (r *Reconciler) invalidate(kind model.EntityKind, id string) {
	if r.notifier != nil {
		r.notifier.Invalidate(model.Invalidation{Kind: kind, ID: id})
	}
}
