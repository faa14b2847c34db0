package reservation_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MichalRedm/distributed-library-system/model"
	"github.com/MichalRedm/distributed-library-system/notify"
	"github.com/MichalRedm/distributed-library-system/recordstore"
	bookrepo "github.com/MichalRedm/distributed-library-system/repository/book"
	resvrepo "github.com/MichalRedm/distributed-library-system/repository/reservation"
	userrepo "github.com/MichalRedm/distributed-library-system/repository/user"
	"github.com/MichalRedm/distributed-library-system/service/reservation"
)

type fixture struct {
	books  bookrepo.Repo
	users  userrepo.Repo
	ledger resvrepo.Repo
	svc    reservation.Service
	events *eventCapture
}

type eventCapture struct {
	mu     sync.Mutex
	events []model.Invalidation
}

func (c *eventCapture) Invalidate(ev model.Invalidation) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *eventCapture) byKind(kind model.EntityKind) []model.Invalidation {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.Invalidation
	for _, ev := range c.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := recordstore.NewMemoryStore()
	books := bookrepo.New(store)
	users := userrepo.New(store)
	ledger := resvrepo.New(store)
	events := &eventCapture{}
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return &fixture{
		books:  books,
		users:  users,
		ledger: ledger,
		svc:    reservation.New(books, users, ledger, events, log),
		events: events,
	}
}

func (f *fixture) mustUser(t *testing.T, username string) *model.User {
	t.Helper()
	user, err := f.users.Create(context.Background(), username)
	require.NoError(t, err)
	return user
}

func (f *fixture) mustBook(t *testing.T, title string) *model.Book {
	t.Helper()
	book, err := f.books.Create(context.Background(), title)
	require.NoError(t, err)
	return book
}

func TestCheckout_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.mustUser(t, "alice")
	book := f.mustBook(t, "Distributed Systems")

	resv, err := f.svc.Checkout(ctx, user.UserID, book.BookID)
	require.NoError(t, err)
	require.Equal(t, model.ReservationActive, resv.Status)
	require.Equal(t, book.BookID, resv.BookID)
	require.Equal(t, "alice", resv.UserName)
	require.Equal(t, "Distributed Systems", resv.BookTitle)
	require.WithinDuration(t,
		resv.ReservationDate.Add(reservation.DefaultLoanPeriod), resv.ReturnDeadline, time.Second)

	got, _, err := f.books.Get(ctx, book.BookID)
	require.NoError(t, err)
	require.Equal(t, model.BookCheckedOut, got.Status)

	require.NotEmpty(t, f.events.byKind(model.KindBook))
	require.NotEmpty(t, f.events.byKind(model.KindUser))
}

func TestCheckout_UserAndBookMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.mustBook(t, "Orphan")
	user := f.mustUser(t, "bob")

	_, err := f.svc.Checkout(ctx, "missing-user", book.BookID)
	require.Equal(t, reservation.ErrUserNotFound, reservation.Code(err))

	_, err = f.svc.Checkout(ctx, user.UserID, "missing-book")
	require.Equal(t, reservation.ErrBookNotFound, reservation.Code(err))
}

func TestCheckout_UnavailableFastPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u1 := f.mustUser(t, "winner")
	u2 := f.mustUser(t, "loser")
	book := f.mustBook(t, "Hot Title")

	_, err := f.svc.Checkout(ctx, u1.UserID, book.BookID)
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, u2.UserID, book.BookID)
	require.Equal(t, reservation.ErrUnavailable, reservation.Code(err))
}

func TestCheckout_DuplicateByUserRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.mustUser(t, "eager")
	book := f.mustBook(t, "One Per Customer")

	_, err := f.svc.Checkout(ctx, user.UserID, book.BookID)
	require.NoError(t, err)

	// The checked-out fast path answers first; the duplicate guard exists
	// for states where the book still reads available.
	_, err = f.svc.Checkout(ctx, user.UserID, book.BookID)
	require.Equal(t, reservation.ErrUnavailable, reservation.Code(err))
}

// N concurrent checkouts on one available book produce exactly one winner;
// everyone else observes unavailable.
func TestCheckout_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.mustBook(t, "Contended")

	const attempts = 16
	users := make([]*model.User, attempts)
	for i := range users {
		users[i] = f.mustUser(t, "reader"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Checkout(ctx, users[i].UserID, book.BookID)
		}(i)
	}
	close(start)
	wg.Wait()

	var wins, unavailable int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case reservation.Code(err) == reservation.ErrUnavailable:
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, attempts-1, unavailable)

	actives, err := f.ledger.ListByBook(ctx, book.BookID)
	require.NoError(t, err)
	require.Len(t, actives, 1)
}

// After a mixed sequence of operations reaches quiescence, book status agrees
// with the set of active reservations.
func TestInvariant_StatusMatchesActiveReservations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	u1 := f.mustUser(t, "u1")
	u2 := f.mustUser(t, "u2")
	b1 := f.mustBook(t, "b1")
	b2 := f.mustBook(t, "b2")
	b3 := f.mustBook(t, "b3")

	r1, err := f.svc.Checkout(ctx, u1.UserID, b1.BookID)
	require.NoError(t, err)
	_, err = f.svc.Checkout(ctx, u2.UserID, b2.BookID)
	require.NoError(t, err)
	r3, err := f.svc.Checkout(ctx, u1.UserID, b3.BookID)
	require.NoError(t, err)

	_, err = f.svc.Return(ctx, r1.ReservationID)
	require.NoError(t, err)
	_, err = f.svc.BulkCancel(ctx, []string{r3.ReservationID})
	require.NoError(t, err)

	all, err := f.ledger.ListAll(ctx)
	require.NoError(t, err)
	activeBooks := map[string]int{}
	for _, resv := range all {
		if resv.Status == model.ReservationActive {
			activeBooks[resv.BookID]++
		}
	}

	for _, id := range []string{b1.BookID, b2.BookID, b3.BookID} {
		book, _, err := f.books.Get(ctx, id)
		require.NoError(t, err)
		if activeBooks[id] == 1 {
			require.Equal(t, model.BookCheckedOut, book.Status, "book %s", id)
		} else {
			require.Zero(t, activeBooks[id])
			require.Equal(t, model.BookAvailable, book.Status, "book %s", id)
		}
	}
}

// Returning twice succeeds both times; the book flips available once.
func TestReturn_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.mustUser(t, "returner")
	book := f.mustBook(t, "Boomerang")

	resv, err := f.svc.Checkout(ctx, user.UserID, book.BookID)
	require.NoError(t, err)

	first, err := f.svc.Return(ctx, resv.ReservationID)
	require.NoError(t, err)
	require.Equal(t, model.ReservationCompleted, first.Status)

	_, bookVersion, err := f.books.Get(ctx, book.BookID)
	require.NoError(t, err)

	second, err := f.svc.Return(ctx, resv.ReservationID)
	require.NoError(t, err)
	require.Equal(t, model.ReservationCompleted, second.Status)

	got, versionAfter, err := f.books.Get(ctx, book.BookID)
	require.NoError(t, err)
	require.Equal(t, model.BookAvailable, got.Status)
	require.Equal(t, bookVersion, versionAfter, "second return must not write the book")
}

func TestReturn_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Return(context.Background(), "missing")
	require.Equal(t, reservation.ErrReservationNotFound, reservation.Code(err))
}

// Extending a completed reservation always fails with an invalid-state error,
// never silently succeeds.
func TestExtend_CompletedRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.mustUser(t, "extender")
	book := f.mustBook(t, "Long Read")

	resv, err := f.svc.Checkout(ctx, user.UserID, book.BookID)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, resv.ReservationID)
	require.NoError(t, err)

	_, err = f.svc.Extend(ctx, resv.ReservationID, time.Now().UTC().Add(30*24*time.Hour))
	require.Equal(t, reservation.ErrInvalidState, reservation.Code(err))
}

func TestExtend_MovesDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.mustUser(t, "keeper")
	book := f.mustBook(t, "Slow Read")

	resv, err := f.svc.Checkout(ctx, user.UserID, book.BookID)
	require.NoError(t, err)

	newDeadline := resv.ReturnDeadline.Add(7 * 24 * time.Hour)
	updated, err := f.svc.Extend(ctx, resv.ReservationID, newDeadline)
	require.NoError(t, err)
	require.True(t, updated.ReturnDeadline.Equal(newDeadline))

	// The book is untouched by an extension.
	got, _, err := f.books.Get(ctx, book.BookID)
	require.NoError(t, err)
	require.Equal(t, model.BookCheckedOut, got.Status)
}

// Bulk cancel counts only reservations actually found; active ones free their
// book, completed ones leave their book alone.
func TestBulkCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u1 := f.mustUser(t, "bulk1")
	u2 := f.mustUser(t, "bulk2")
	bookA := f.mustBook(t, "A")
	bookB := f.mustBook(t, "B")

	r1, err := f.svc.Checkout(ctx, u1.UserID, bookA.BookID)
	require.NoError(t, err)
	r2, err := f.svc.Checkout(ctx, u2.UserID, bookB.BookID)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, r2.ReservationID)
	require.NoError(t, err)

	// bookB was concurrently re-reserved; its status must survive the
	// cancellation of the completed r2.
	u3 := f.mustUser(t, "bulk3")
	_, err = f.svc.Checkout(ctx, u3.UserID, bookB.BookID)
	require.NoError(t, err)

	result, err := f.svc.BulkCancel(ctx, []string{r1.ReservationID, r2.ReservationID, "missing"})
	require.NoError(t, err)
	require.Equal(t, 2, result.CancelledCount)
	require.Equal(t, 3, result.TotalRequested)

	gotA, _, err := f.books.Get(ctx, bookA.BookID)
	require.NoError(t, err)
	require.Equal(t, model.BookAvailable, gotA.Status)

	gotB, _, err := f.books.Get(ctx, bookB.BookID)
	require.NoError(t, err)
	require.Equal(t, model.BookCheckedOut, gotB.Status)

	_, err = f.svc.Get(ctx, r1.ReservationID)
	require.Equal(t, reservation.ErrReservationNotFound, reservation.Code(err))
}

// The end-to-end race scenario: two users fight over one book, the winner
// returns it, and availability round-trips.
func TestScenario_RaceThenReturn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u1 := f.mustUser(t, "racer1")
	u2 := f.mustUser(t, "racer2")
	book := f.mustBook(t, "B1")

	type outcome struct {
		resv *model.Reservation
		err  error
	}
	results := make(chan outcome, 2)
	start := make(chan struct{})
	for _, uid := range []string{u1.UserID, u2.UserID} {
		go func(uid string) {
			<-start
			resv, err := f.svc.Checkout(ctx, uid, book.BookID)
			results <- outcome{resv, err}
		}(uid)
	}
	close(start)

	a, b := <-results, <-results
	winner, loser := a, b
	if winner.err != nil {
		winner, loser = b, a
	}
	require.NoError(t, winner.err)
	require.Equal(t, model.ReservationActive, winner.resv.Status)
	require.Equal(t, book.BookID, winner.resv.BookID)
	require.Equal(t, reservation.ErrUnavailable, reservation.Code(loser.err))

	got, _, err := f.books.Get(ctx, book.BookID)
	require.NoError(t, err)
	require.Equal(t, model.BookCheckedOut, got.Status)

	done, err := f.svc.Return(ctx, winner.resv.ReservationID)
	require.NoError(t, err)
	require.Equal(t, model.ReservationCompleted, done.Status)

	got, _, err = f.books.Get(ctx, book.BookID)
	require.NoError(t, err)
	require.Equal(t, model.BookAvailable, got.Status)
}

// Failure injection around the real repos, for the crash window between the
// book flip and the ledger insert.
type flakyLedger struct {
	resvrepo.Repo
	createErr error
}

func (l *flakyLedger) CreateActive(context.Context, resvrepo.CreateParams) (*model.Reservation, error) {
	return nil, l.createErr
}

type stuckBooks struct {
	bookrepo.Repo
	availErr error
}

func (b *stuckBooks) TrySetAvailable(context.Context, string, int64) (int64, error) {
	return 0, b.availErr
}

func TestCheckout_LedgerFailureRollsBackBook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.mustUser(t, "unlucky")
	book := f.mustBook(t, "Cursed")

	ledgerErr := errors.New("ledger write refused")
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc := reservation.New(f.books, f.users,
		&flakyLedger{Repo: f.ledger, createErr: ledgerErr}, f.events, log)

	_, err := svc.Checkout(ctx, user.UserID, book.BookID)
	require.ErrorIs(t, err, ledgerErr)

	got, _, err := f.books.Get(ctx, book.BookID)
	require.NoError(t, err)
	require.Equal(t, model.BookAvailable, got.Status)

	actives, err := f.ledger.ListByBook(ctx, book.BookID)
	require.NoError(t, err)
	require.Empty(t, actives)

	// The rolled-back book is reservable again through the healthy service.
	_, err = f.svc.Checkout(ctx, user.UserID, book.BookID)
	require.NoError(t, err)
}

func TestCheckout_RollbackFailureSurfacesRepairNeeded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.mustUser(t, "stranded")
	book := f.mustBook(t, "Wedged")

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc := reservation.New(
		&stuckBooks{Repo: f.books, availErr: errors.New("store unreachable")},
		f.users,
		&flakyLedger{Repo: f.ledger, createErr: errors.New("ledger write refused")},
		f.events, log)

	_, err := svc.Checkout(ctx, user.UserID, book.BookID)
	require.Equal(t, reservation.ErrRepairNeeded, reservation.Code(err))

	// The book is wedged checked_out with no reservation behind it, the one
	// state automation cannot undo inline.
	got, _, err := f.books.Get(ctx, book.BookID)
	require.NoError(t, err)
	require.Equal(t, model.BookCheckedOut, got.Status)
	actives, err := f.ledger.ListByBook(ctx, book.BookID)
	require.NoError(t, err)
	require.Empty(t, actives)

	// The reconciler restores it once the store cooperates again.
	rec := reservation.NewReconciler(f.books, f.ledger, notify.Discard{}, log, time.Minute, time.Minute)
	report, err := rec.RunCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.BookStatusFixed)

	got, _, err = f.books.Get(ctx, book.BookID)
	require.NoError(t, err)
	require.Equal(t, model.BookAvailable, got.Status)
}
