package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-console-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCachedRoleCatalogMemoizes(t *testing.T) {
	source := &MockRoleCatalog{}
	source.On("Roles", mock.Anything).Return([]auth.RoleRef{
		auth.DetailedRole("editor", "posts.edit"),
	}, nil).Once()

	catalog := auth.NewCachedRoleCatalog(source, time.Minute).WithLogger(auth.NopLogger{})

	for i := 0; i < 3; i++ {
		roles, err := catalog.Roles(context.Background())
		require.NoError(t, err)
		require.Len(t, roles, 1)
		assert.Equal(t, "editor", roles[0].Name())
	}
	source.AssertNumberOfCalls(t, "Roles", 1)
}

func TestCachedRoleCatalogSharesConcurrentFetch(t *testing.T) {
	release := make(chan struct{})
	source := &MockRoleCatalog{}
	source.On("Roles", mock.Anything).Run(func(mock.Arguments) {
		<-release
	}).Return([]auth.RoleRef{auth.RoleName("editor")}, nil)

	catalog := auth.NewCachedRoleCatalog(source, time.Minute).WithLogger(auth.NopLogger{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := catalog.Roles(context.Background())
			assert.NoError(t, err)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	source.AssertNumberOfCalls(t, "Roles", 1)
}

func TestCachedRoleCatalogExpiresAndInvalidates(t *testing.T) {
	source := &MockRoleCatalog{}
	source.On("Roles", mock.Anything).Return([]auth.RoleRef{auth.RoleName("editor")}, nil)

	catalog := auth.NewCachedRoleCatalog(source, 30*time.Millisecond).WithLogger(auth.NopLogger{})

	_, err := catalog.Roles(context.Background())
	require.NoError(t, err)

	catalog.Invalidate()
	_, err = catalog.Roles(context.Background())
	require.NoError(t, err)
	source.AssertNumberOfCalls(t, "Roles", 2)

	time.Sleep(60 * time.Millisecond)
	_, err = catalog.Roles(context.Background())
	require.NoError(t, err)
	source.AssertNumberOfCalls(t, "Roles", 3)
}

func TestCachedRoleCatalogRemembersAccessDenied(t *testing.T) {
	source := &MockRoleCatalog{}
	source.On("Roles", mock.Anything).Return(nil, gatewayError(403, "This action is unauthorized.")).Once()

	catalog := auth.NewCachedRoleCatalog(source, time.Minute).WithLogger(auth.NopLogger{})

	for i := 0; i < 2; i++ {
		roles, err := catalog.Roles(context.Background())
		assert.Nil(t, roles)
		assert.ErrorIs(t, err, auth.ErrCatalogUnavailable)
	}
	source.AssertNumberOfCalls(t, "Roles", 1)
}

func TestCachedRoleCatalogRetriesTransientFailures(t *testing.T) {
	source := &MockRoleCatalog{}
	source.On("Roles", mock.Anything).Return(nil, errors.New("connection reset")).Once()
	source.On("Roles", mock.Anything).Return([]auth.RoleRef{auth.RoleName("editor")}, nil).Once()

	catalog := auth.NewCachedRoleCatalog(source, time.Minute).WithLogger(auth.NopLogger{})

	_, err := catalog.Roles(context.Background())
	require.Error(t, err)

	roles, err := catalog.Roles(context.Background())
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestCachedRoleCatalogReturnsCopies(t *testing.T) {
	source := &MockRoleCatalog{}
	source.On("Roles", mock.Anything).Return([]auth.RoleRef{auth.RoleName("editor")}, nil).Once()

	catalog := auth.NewCachedRoleCatalog(source, time.Minute).WithLogger(auth.NopLogger{})

	first, err := catalog.Roles(context.Background())
	require.NoError(t, err)
	first[0] = auth.RoleName("changed")

	second, err := catalog.Roles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "editor", second[0].Name())
}

func TestCachedRoleCatalogFetchOutlivesCancelledCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var fetchErr error

	source := &MockRoleCatalog{}
	source.On("Roles", mock.Anything).Run(func(args mock.Arguments) {
		fetchCtx := args.Get(0).(context.Context)
		close(started)
		<-release
		fetchErr = fetchCtx.Err()
	}).Return([]auth.RoleRef{auth.RoleName("editor")}, nil).Once()

	catalog := auth.NewCachedRoleCatalog(source, time.Minute).
		WithTimeout(time.Second).
		WithLogger(auth.NopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := catalog.Roles(ctx)
		firstErr <- err
	}()
	<-started

	type result struct {
		roles []auth.RoleRef
		err   error
	}
	second := make(chan result, 1)
	go func() {
		roles, err := catalog.Roles(context.Background())
		second <- result{roles, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	require.Len(t, res.roles, 1)
	assert.Equal(t, "editor", res.roles[0].Name())
	assert.NoError(t, fetchErr, "the shared fetch must not see the first caller's cancellation")
	source.AssertNumberOfCalls(t, "Roles", 1)
}

