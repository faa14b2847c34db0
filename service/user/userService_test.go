package usersvc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MichalRedm/distributed-library-system/recordstore"
	userrepo "github.com/MichalRedm/distributed-library-system/repository/user"
	usersvc "github.com/MichalRedm/distributed-library-system/service/user"
)

func newService() usersvc.Service {
	return usersvc.New(userrepo.New(recordstore.NewMemoryStore()))
}

func TestCreate_EmptyUsername(t *testing.T) {
	s := newService()
	_, err := s.Create(context.Background(), "")
	require.ErrorIs(t, err, usersvc.ErrInvalidUsername)
}

func TestCreate_AndGet(t *testing.T) {
	ctx := context.Background()
	s := newService()

	user, err := s.Create(ctx, "frank")
	require.NoError(t, err)

	got, err := s.Get(ctx, user.UserID)
	require.NoError(t, err)
	require.Equal(t, "frank", got.Username)
}

func TestCreate_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := newService()

	_, err := s.Create(ctx, "grace")
	require.NoError(t, err)

	_, err = s.Create(ctx, "grace")
	require.ErrorIs(t, err, userrepo.ErrUsernameTaken)
}
