package booksvc

import (
	"context"
	"errors"

	"github.com/MichalRedm/distributed-library-system/model"
)

var ErrInvalidTitle = errors.New("title must not be empty")

// Repo is the slice of the book registry this service needs.
type Repo interface {
	Create(ctx context.Context, title string) (*model.Book, error)
	Get(ctx context.Context, bookID string) (*model.Book, int64, error)
	List(ctx context.Context, availableOnly bool) ([]model.Book, error)
}

// Ledger provides the reservation read used by the availability projection.
type Ledger interface {
	ListByBook(ctx context.Context, bookID string) ([]model.Reservation, error)
}

// Availability is the read-side projection of a book plus the reservations
// currently holding it.
type Availability struct {
	BookID                  string              `json:"book_id"`
	Title                   string              `json:"title"`
	Status                  model.BookStatus    `json:"status"`
	IsAvailable             bool                `json:"is_available"`
	ActiveReservations      []model.Reservation `json:"active_reservations"`
	ActiveReservationsCount int                 `json:"active_reservations_count"`
}

type Service interface {
	Create(ctx context.Context, title string) (*model.Book, error)
	Get(ctx context.Context, bookID string) (*model.Book, error)
	List(ctx context.Context, availableOnly bool) ([]model.Book, error)
	Availability(ctx context.Context, bookID string) (*Availability, error)
}

type service struct {
	r      Repo
	ledger Ledger
}

func New(r Repo, ledger Ledger) Service { return &service{r: r, ledger: ledger} }

func (s *service) Create(ctx context.Context, title string) (*model.Book, error) {
	if title == "" {
		return nil, ErrInvalidTitle
	}
	return s.r.Create(ctx, title)
}

func (s *service) Get(ctx context.Context, bookID string) (*model.Book, error) {
	book, _, err := s.r.Get(ctx, bookID)
	return book, err
}

func (s *service) List(ctx context.Context, availableOnly bool) ([]model.Book, error) {
	return s.r.List(ctx, availableOnly)
}

func (s *service) Availability(ctx context.Context, bookID string) (*Availability, error) {
	book, _, err := s.r.Get(ctx, bookID)
	if err != nil {
		return nil, err
	}
	all, err := s.ledger.ListByBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	actives := make([]model.Reservation, 0, 1)
	for _, resv := range all {
		if resv.Status == model.ReservationActive {
			actives = append(actives, resv)
		}
	}
	return &Availability{
		BookID:                  book.BookID,
		Title:                   book.Title,
		Status:                  book.Status,
		IsAvailable:             book.Status == model.BookAvailable && len(actives) == 0,
		ActiveReservations:      actives,
		ActiveReservationsCount: len(actives),
	}, nil
}
