// Package catalog serves category workflow definitions from a read-through
// cache over the category store.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
	"github.com/pesio-ai/be-scm-requisitions/internal/logger"
	"github.com/pesio-ai/be-scm-requisitions/internal/repository"
	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

const (
	DefaultTTL             = 5 * time.Minute
	DefaultCleanupInterval = 10 * time.Minute
)

// Catalog caches current definitions by code for ttl, and published versions
// forever since they never change.
type Catalog struct {
	store repository.CategoryStore
	cache *gocache.Cache
	ttl   time.Duration
	log   *logger.Logger
}

// New creates a Catalog. A zero ttl uses DefaultTTL.
func New(store repository.CategoryStore, ttl time.Duration, log *logger.Logger) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Catalog{
		store: store,
		cache: gocache.New(ttl, DefaultCleanupInterval),
		ttl:   ttl,
		log:   log,
	}
}

func currentKey(code string) string { return "current:" + code }

func versionKey(categoryID string, version int) string {
	return fmt.Sprintf("version:%s@%d", categoryID, version)
}

// Current returns the latest definition of a category. Callers must not
// mutate the returned value.
func (c *Catalog) Current(ctx context.Context, code string) (*workflow.CategoryWorkflowDefinition, error) {
	if v, ok := c.cache.Get(currentKey(code)); ok {
		if def, ok := v.(*workflow.CategoryWorkflowDefinition); ok {
			return def, nil
		}
	}

	def, err := c.store.GetCurrentDefinition(ctx, code)
	if err != nil {
		return nil, err
	}
	c.remember(def)
	return def, nil
}

// Version returns the definition version a requisition is bound to.
func (c *Catalog) Version(ctx context.Context, categoryID string, version int) (*workflow.CategoryWorkflowDefinition, error) {
	key := versionKey(categoryID, version)
	if v, ok := c.cache.Get(key); ok {
		if def, ok := v.(*workflow.CategoryWorkflowDefinition); ok {
			return def, nil
		}
	}

	def, err := c.store.GetDefinition(ctx, categoryID, version)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, def, gocache.NoExpiration)
	return def, nil
}

// CurrentByID resolves the latest definition of a category given its id.
func (c *Catalog) CurrentByID(ctx context.Context, categoryID string) (*workflow.CategoryWorkflowDefinition, error) {
	defs, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if def.CategoryID == categoryID {
			return def, nil
		}
	}
	return nil, errors.NotFound("category", categoryID)
}

// List returns the current definition of every category.
func (c *Catalog) List(ctx context.Context) ([]*workflow.CategoryWorkflowDefinition, error) {
	const listKey = "list"
	if v, ok := c.cache.Get(listKey); ok {
		if defs, ok := v.([]*workflow.CategoryWorkflowDefinition); ok {
			return defs, nil
		}
	}

	defs, err := c.store.ListCurrentDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		c.remember(def)
	}
	c.cache.Set(listKey, defs, c.ttl)
	return defs, nil
}

// Publish validates def and stores it as the category's next version.
func (c *Catalog) Publish(ctx context.Context, def *workflow.CategoryWorkflowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if err := c.store.PublishCategory(ctx, def); err != nil {
		return err
	}
	c.cache.Delete(currentKey(def.CategoryCode))
	c.cache.Delete("list")

	c.log.Info().
		Str("category_code", def.CategoryCode).
		Int("version", def.Version).
		Int("steps", len(def.Steps)).
		Msg("Category workflow published")
	return nil
}

// Reload drops cached current definitions and warms the cache from the store.
// Bound versions stay cached.
func (c *Catalog) Reload(ctx context.Context) (int, error) {
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, "version:") {
			continue
		}
		c.cache.Delete(key)
	}

	defs, err := c.List(ctx)
	if err != nil {
		return 0, err
	}
	c.log.Info().Int("categories", len(defs)).Msg("Category catalog reloaded")
	return len(defs), nil
}

func (c *Catalog) remember(def *workflow.CategoryWorkflowDefinition) {
	c.cache.Set(currentKey(def.CategoryCode), def, c.ttl)
	c.cache.Set(versionKey(def.CategoryID, def.Version), def, gocache.NoExpiration)
}
