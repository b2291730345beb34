// Package cachelayer provides short-TTL in-process memoization for user,
// group, and policy reads, so PolicyEngine's hot path avoids a round-trip
// to AuditStore/webuidb on every request (spec.md §4.3).
package cachelayer

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tjfontaine/openwebui-gateway/internal/audit"
)

const ttl = 60 * time.Second

// Cache holds three independent, mutex-safe TTL maps. Writes (admin
// PATCH/POST/DELETE) invalidate the affected key in the originating
// process only; cross-process invalidation isn't required because entries
// expire within one TTL.
type Cache struct {
	users    *expirable.LRU[string, audit.User]
	groups   *expirable.LRU[string, []string]
	policies *expirable.LRU[string, audit.Policy]
}

// New constructs a Cache with a generous size bound; entries are evicted
// by TTL long before the size bound would matter in practice.
func New() *Cache {
	return &Cache{
		users:    expirable.NewLRU[string, audit.User](10_000, nil, ttl),
		groups:   expirable.NewLRU[string, []string](10_000, nil, ttl),
		policies: expirable.NewLRU[string, audit.Policy](10_000, nil, ttl),
	}
}

func (c *Cache) GetUser(id string) (audit.User, bool) {
	return c.users.Get(id)
}

func (c *Cache) PutUser(id string, u audit.User) {
	c.users.Add(id, u)
}

func (c *Cache) InvalidateUser(id string) {
	c.users.Remove(id)
}

func (c *Cache) GetGroups(id string) ([]string, bool) {
	return c.groups.Get(id)
}

func (c *Cache) PutGroups(id string, groups []string) {
	c.groups.Add(id, groups)
}

func (c *Cache) GetPolicy(id string) (audit.Policy, bool) {
	return c.policies.Get(id)
}

func (c *Cache) PutPolicy(id string, p audit.Policy) {
	c.policies.Add(id, p)
}

func (c *Cache) InvalidatePolicy(id string) {
	c.policies.Remove(id)
}
