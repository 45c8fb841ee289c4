package auth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny-errors/internal/model"
)

type stubProjects struct {
	byKey map[string]model.Project
	calls int
	err   error
}

func (s *stubProjects) FindByAPIKey(_ context.Context, apiKey string) (*model.Project, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.byKey[apiKey]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return &p, nil
}

type mapCache map[string][]byte

func (m mapCache) Get(_ context.Context, key string, dest any) error {
	data, ok := m[key]
	if !ok {
		return errors.New("miss")
	}
	return json.Unmarshal(data, dest)
}

func (m mapCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m[key] = data
	return nil
}

func (m mapCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m, k)
	}
	return nil
}

func TestVerifyProjectAccess(t *testing.T) {
	projects := &stubProjects{byKey: map[string]model.Project{
		"demo-key": {ID: "demo-project", APIKey: "demo-key"},
	}}
	a := NewAuthorizer(projects, nil, time.Minute)
	ctx := context.Background()

	ok, err := a.VerifyProjectAccess(ctx, "demo-key", "demo-project")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.VerifyProjectAccess(ctx, "demo-key", "other-project")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.VerifyProjectAccess(ctx, "unknown", "demo-project")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.VerifyProjectAccess(ctx, "", "demo-project")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyProjectAccessFailsClosedOnLookupError(t *testing.T) {
	a := NewAuthorizer(&stubProjects{err: errors.New("db down")}, nil, time.Minute)
	ok, err := a.VerifyProjectAccess(context.Background(), "demo-key", "demo-project")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestResolveUsesCache(t *testing.T) {
	projects := &stubProjects{byKey: map[string]model.Project{
		"demo-key": {ID: "demo-project", APIKey: "demo-key", HMACSecret: "s"},
	}}
	cache := mapCache{}
	a := NewAuthorizer(projects, cache, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		creds, err := a.Resolve(ctx, "demo-key")
		require.NoError(t, err)
		assert.Equal(t, Credentials{ProjectID: "demo-project", HMACSecret: "s"}, creds)
	}
	assert.Equal(t, 1, projects.calls)
}

func TestForgetDropsRotatedCredentials(t *testing.T) {
	projects := &stubProjects{byKey: map[string]model.Project{
		"old-key": {ID: "demo-project", APIKey: "old-key"},
	}}
	cache := mapCache{}
	a := NewAuthorizer(projects, cache, time.Minute)
	ctx := context.Background()

	ok, err := a.VerifyProjectAccess(ctx, "old-key", "demo-project")
	require.NoError(t, err)
	require.True(t, ok)

	projects.byKey = map[string]model.Project{
		"new-key": {ID: "demo-project", APIKey: "new-key"},
	}
	ok, err = a.VerifyProjectAccess(ctx, "old-key", "demo-project")
	require.NoError(t, err)
	assert.True(t, ok, "served from cache until evicted")

	require.NoError(t, a.Forget(ctx, "old-key"))
	assert.Empty(t, cache)
	ok, err = a.VerifyProjectAccess(ctx, "old-key", "demo-project")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, NewAuthorizer(projects, nil, time.Minute).Forget(ctx, "new-key"))
}
