package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DependencyType represents the type of dependency.
type DependencyType string

const (
	// DependencyTypeDatabase is a database dependency.
	DependencyTypeDatabase DependencyType = "database"
	// DependencyTypeCache is a counter store or cache dependency.
	DependencyTypeCache DependencyType = "cache"
	// DependencyTypeCustom is a custom dependency.
	DependencyTypeCustom DependencyType = "custom"
)

// errNilDependency is returned by checks built around a nil dependency.
var errNilDependency = errors.New("dependency is not configured")

// HealthCheck defines the interface for health checks.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// Pinger is implemented by dependencies that can be checked with a round
// trip, such as the Redis counter store and *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a ping function to Pinger.
type PingFunc func(ctx context.Context) error

// PingContext calls f.
func (f PingFunc) PingContext(ctx context.Context) error {
	return f(ctx)
}

// DependencyCheck represents a dependency health check.
type DependencyCheck struct {
	name    string
	depType DependencyType
	checkFn func(ctx context.Context) error
}

// NewDependencyCheck creates a new dependency check.
func NewDependencyCheck(name string, depType DependencyType, checkFn func(ctx context.Context) error) *DependencyCheck {
	return &DependencyCheck{
		name:    name,
		depType: depType,
		checkFn: checkFn,
	}
}

// Name returns the name of the dependency check.
func (d *DependencyCheck) Name() string {
	return d.name
}

// Type returns the dependency type.
func (d *DependencyCheck) Type() DependencyType {
	return d.depType
}

// Check performs the dependency health check.
func (d *DependencyCheck) Check(ctx context.Context) error {
	return d.checkFn(ctx)
}

// PingCheck creates a check that pings p.
func PingCheck(name string, depType DependencyType, p Pinger) *DependencyCheck {
	return NewDependencyCheck(name, depType, func(ctx context.Context) error {
		if p == nil {
			return errNilDependency
		}
		if err := p.PingContext(ctx); err != nil {
			return fmt.Errorf("%s ping failed: %w", depType, err)
		}
		return nil
	})
}

// CachedHealthCheck caches health check results so that frequent health requests do
// not turn into a round trip each.
type CachedHealthCheck struct {
	check      HealthCheck
	cacheTTL   time.Duration
	now        func() time.Time
	mu         sync.Mutex
	lastCheck  time.Time
	lastResult error
}

// NewCachedHealthCheck creates a new cached health check.
func NewCachedHealthCheck(check HealthCheck, cacheTTL time.Duration) *CachedHealthCheck {
	return &CachedHealthCheck{
		check:    check,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Name returns the name of the wrapped check.
func (c *CachedHealthCheck) Name() string {
	return c.check.Name()
}

// Check returns the cached result while it is fresh.
func (c *CachedHealthCheck) Check(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastCheck.IsZero() && c.now().Sub(c.lastCheck) < c.cacheTTL {
		return c.lastResult
	}

	c.lastResult = c.check.Check(ctx)
	c.lastCheck = c.now()
	return c.lastResult
}
