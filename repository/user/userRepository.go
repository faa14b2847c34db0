// Package userrepo owns User records, read-mostly from the core's
// perspective. Username uniqueness is enforced with a claim record inserted
// before the user record itself.
package userrepo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/MichalRedm/distributed-library-system/model"
	"github.com/MichalRedm/distributed-library-system/recordstore"
)

const (
	keyPrefix      = "user/"
	usernamePrefix = "username/"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrNotFound      = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already exists")
)

type Repo interface {
	Create(ctx context.Context, username string) (*model.User, error)
	Get(ctx context.Context, userID string) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
}

type repo struct {
	store recordstore.Store
}

func New(store recordstore.Store) Repo { return &repo{store: store} }

func (r *repo) Create(ctx context.Context, username string) (*model.User, error) {
	user := &model.User{
		UserID:    uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}

	// Claim the username first; a lost race surfaces as ErrKeyExists and no
	// user record is written.
	claimKey := usernamePrefix + strings.ToLower(username)
	if _, err := r.store.InsertIfAbsent(ctx, claimKey, []byte(user.UserID)); err != nil {
		if errors.Is(err, recordstore.ErrKeyExists) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	value, err := json.Marshal(user)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.InsertIfAbsent(ctx, keyPrefix+user.UserID, value); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *repo) Get(ctx context.Context, userID string) (*model.User, error) {
	rec, err := r.store.Get(ctx, keyPrefix+userID)
	if errors.Is(err, recordstore.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var user model.User
	if err := json.Unmarshal(rec.Value, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) List(ctx context.Context) ([]model.User, error) {
	recs, err := r.store.Scan(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(recs))
	for _, rec := range recs {
		var user model.User
		if err := json.Unmarshal(rec.Value, &user); err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, nil
}
