package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tiny-errors/internal/model"
)

// ErrProjectNotFound is returned for API keys that match no project.
var ErrProjectNotFound = model.ErrNotFound

// ProjectFinder resolves projects by API key, returning model.ErrNotFound
// for unknown keys.
type ProjectFinder interface {
	FindByAPIKey(ctx context.Context, apiKey string) (*model.Project, error)
}

// Cache stores resolved credentials between requests.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Credentials is what the authorizer needs to know about a project.
type Credentials struct {
	ProjectID  string `json:"project_id"`
	HMACSecret string `json:"hmac_secret,omitempty"`
}

// Authorizer answers whether an API key may act on a project.
type Authorizer struct {
	projects ProjectFinder
	cache    Cache
	ttl      time.Duration
}

// NewAuthorizer builds an Authorizer. cache may be nil.
func NewAuthorizer(projects ProjectFinder, cache Cache, ttl time.Duration) *Authorizer {
	return &Authorizer{projects: projects, cache: cache, ttl: ttl}
}

// Resolve returns the credentials owning apiKey. Unknown keys return
// ErrProjectNotFound.
func (a *Authorizer) Resolve(ctx context.Context, apiKey string) (Credentials, error) {
	if apiKey == "" {
		return Credentials{}, ErrProjectNotFound
	}
	key := cacheKey(apiKey)
	var creds Credentials
	if a.cache != nil {
		if err := a.cache.Get(ctx, key, &creds); err == nil && creds.ProjectID != "" {
			return creds, nil
		}
	}
	project, err := a.projects.FindByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, ErrProjectNotFound) {
			return Credentials{}, err
		}
		return Credentials{}, fmt.Errorf("find project: %w", err)
	}
	creds = Credentials{ProjectID: project.ID, HMACSecret: project.HMACSecret}
	if a.cache != nil {
		_ = a.cache.Set(ctx, key, creds, a.ttl)
	}
	return creds, nil
}

// Forget evicts the cached credentials of apiKeys so the next lookup reads
// the store.
func (a *Authorizer) Forget(ctx context.Context, apiKeys ...string) error {
	if a.cache == nil || len(apiKeys) == 0 {
		return nil
	}
	keys := make([]string, len(apiKeys))
	for i, k := range apiKeys {
		keys[i] = cacheKey(k)
	}
	if err := a.cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("evict credentials: %w", err)
	}
	return nil
}

func cacheKey(apiKey string) string { return "apikey:" + apiKey }

// VerifyProjectAccess reports whether apiKey belongs to projectID. Lookup
// failures other than an unknown key are returned so callers fail closed.
func (a *Authorizer) VerifyProjectAccess(ctx context.Context, apiKey, projectID string) (bool, error) {
	creds, err := a.Resolve(ctx, apiKey)
	if errors.Is(err, ErrProjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return creds.ProjectID == projectID, nil
}
