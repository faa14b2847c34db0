// Package bookrepo owns Book records: the single source of truth for
// availability. TrySetCheckedOut and TrySetAvailable are the only mutators of
// book status and each one is a single compare-and-set against the store.
package bookrepo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/MichalRedm/distributed-library-system/model"
	"github.com/MichalRedm/distributed-library-system/recordstore"
)

const keyPrefix = "book/"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrNotFound = errors.New("book not found")

// ErrConflict means another writer changed the book status first. It is
// reported, never retried here: retry-without-reread would re-derive a stale
// decision.
var ErrConflict = errors.New("book status conflict")

type Repo interface {
	Create(ctx context.Context, title string) (*model.Book, error)
	Get(ctx context.Context, bookID string) (*model.Book, int64, error)
	List(ctx context.Context, availableOnly bool) ([]model.Book, error)
	TrySetCheckedOut(ctx context.Context, bookID string, expectedVersion int64) (int64, error)
	TrySetAvailable(ctx context.Context, bookID string, expectedVersion int64) (int64, error)
}

type repo struct {
	store recordstore.Store
}

func New(store recordstore.Store) Repo { return &repo{store: store} }

func (r *repo) Create(ctx context.Context, title string) (*model.Book, error) {
	book := &model.Book{
		BookID:    uuid.NewString(),
		Title:     title,
		Status:    model.BookAvailable,
		CreatedAt: time.Now().UTC(),
	}
	value, err := json.Marshal(book)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.InsertIfAbsent(ctx, keyPrefix+book.BookID, value); err != nil {
		return nil, err
	}
	return book, nil
}

func (r *repo) Get(ctx context.Context, bookID string) (*model.Book, int64, error) {
	rec, err := r.store.Get(ctx, keyPrefix+bookID)
	if errors.Is(err, recordstore.ErrKeyNotFound) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	var book model.Book
	if err := json.Unmarshal(rec.Value, &book); err != nil {
		return nil, 0, err
	}
	return &book, rec.Version, nil
}

func (r *repo) List(ctx context.Context, availableOnly bool) ([]model.Book, error) {
	recs, err := r.store.Scan(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]model.Book, 0, len(recs))
	for _, rec := range recs {
		var book model.Book
		if err := json.Unmarshal(rec.Value, &book); err != nil {
			return nil, err
		}
		if availableOnly && book.Status != model.BookAvailable {
			continue
		}
		out = append(out, book)
	}
	return out, nil
}

func (r *repo) TrySetCheckedOut(ctx context.Context, bookID string, expectedVersion int64) (int64, error) {
	return r.setStatus(ctx, bookID, expectedVersion, model.BookCheckedOut)
}

func (r *repo) TrySetAvailable(ctx context.Context, bookID string, expectedVersion int64) (int64, error) {
	return r.setStatus(ctx, bookID, expectedVersion, model.BookAvailable)
}

func (r *repo) setStatus(ctx context.Context, bookID string, expectedVersion int64, status model.BookStatus) (int64, error) {
	key := keyPrefix + bookID

	rec, err := r.store.Get(ctx, key)
	if errors.Is(err, recordstore.ErrKeyNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	// The new value must be derived from the same version the CAS is
	// conditioned on, never from a fresher read.
	if rec.Version != expectedVersion {
		return 0, ErrConflict
	}

	var book model.Book
	if err := json.Unmarshal(rec.Value, &book); err != nil {
		return 0, err
	}
	book.Status = status

	value, err := json.Marshal(&book)
	if err != nil {
		return 0, err
	}
	next, err := r.store.CompareAndSet(ctx, key, expectedVersion, value)
	if errors.Is(err, recordstore.ErrVersionMismatch) {
		return 0, ErrConflict
	}
	if errors.Is(err, recordstore.ErrKeyNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return next.Version, nil
}
