package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const roleCatalogKey = "roles"

type catalogEntry struct {
	roles       []RoleRef
	unavailable bool
}

var _ RoleCatalog = (*CachedRoleCatalog)(nil)

// CachedRoleCatalog memoizes a role catalog for a TTL. Concurrent misses
// share one upstream fetch. An access denied answer is remembered too so
// identities without catalog access do not hit the API on every check.
type CachedRoleCatalog struct {
	source RoleCatalog
	cache  *expirable.LRU[string, catalogEntry]
	group   singleflight.Group
	logger  Logger
	timeout time.Duration
}

// NewCachedRoleCatalog wraps source with a cache of the given TTL
func NewCachedRoleCatalog(source RoleCatalog, ttl time.Duration) *CachedRoleCatalog {
	if ttl <= 0 {
		ttl = DefaultRoleCatalogTTL
	}
	return &CachedRoleCatalog{
		source: source,
		cache:   expirable.NewLRU[string, catalogEntry](1, nil, ttl),
		logger:  defLogger{},
		timeout: DefaultRequestTimeout,
	}
}

// WithTimeout bounds the shared upstream fetch
func (c *CachedRoleCatalog) WithTimeout(d time.Duration) *CachedRoleCatalog {
	if d > 0 {
		c.timeout = d
	}
	return c
}

func (c *CachedRoleCatalog) WithLogger(logger Logger) *CachedRoleCatalog {
	c.logger = normalizeLogger(logger)
	return c
}

// Roles returns the cached catalog, fetching it on a miss
func (c *CachedRoleCatalog) Roles(ctx context.Context) ([]RoleRef, error) {
	if entry, ok := c.cache.Get(roleCatalogKey); ok {
		return entry.result()
	}

	// the shared fetch outlives any single caller
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(roleCatalogKey, func() (any, error) {
		fctx, cancel := context.WithTimeout(fetchCtx, c.timeout)
		defer cancel()

		roles, err := c.source.Roles(fctx)
		if err != nil {
			if IsUnauthenticated(err) {
				entry := catalogEntry{unavailable: true}
				c.cache.Add(roleCatalogKey, entry)
				return entry, nil
			}
			return nil, err
		}

		entry := catalogEntry{roles: cloneRoles(roles)}
		c.cache.Add(roleCatalogKey, entry)
		return entry, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	v, err, shared := res.Val, res.Err, res.Shared

	if err != nil {
		c.logger.Warn("role catalog fetch failed: %v", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "role catalog fetch failed")
	}

	if shared {
		c.logger.Debug("role catalog fetch shared between callers")
	}

	return v.(catalogEntry).result()
}

// Invalidate drops the cached catalog, the next call fetches again
func (c *CachedRoleCatalog) Invalidate() {
	c.cache.Purge()
}

func (e catalogEntry) result() ([]RoleRef, error) {
	if e.unavailable {
		return nil, ErrCatalogUnavailable
	}
	return cloneRoles(e.roles), nil
}

func cloneRoles(roles []RoleRef) []RoleRef {
	out := make([]RoleRef, len(roles))
	for i, r := range roles {
		out[i] = r.clone()
	}
	return out
}
