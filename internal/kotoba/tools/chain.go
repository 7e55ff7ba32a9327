package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Chain merges several catalogs. When two list the same function, the
// earlier one serves it.
type Chain struct {
	catalogs []Catalog

	mu    sync.RWMutex
	owner map[string]Catalog
}

var _ Catalog = (*Chain)(nil)

// NewChain returns a Chain over cats, skipping nil entries.
func NewChain(cats ...Catalog) *Chain {
	c := &Chain{owner: make(map[string]Catalog)}
	for _, cat := range cats {
		if cat != nil {
			c.catalogs = append(c.catalogs, cat)
		}
	}
	return c
}

// ListFunctions lists every member. A member that fails is skipped unless
// all of them fail.
func (c *Chain) ListFunctions(ctx context.Context) ([]Function, error) {
	var (
		out   []Function
		errs  []error
		owner = make(map[string]Catalog)
	)
	for _, cat := range c.catalogs {
		fns, err := cat.ListFunctions(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, fn := range fns {
			if _, dup := owner[fn.Name]; dup {
				continue
			}
			owner[fn.Name] = cat
			out = append(out, fn)
		}
	}
	if len(errs) > 0 && len(errs) == len(c.catalogs) {
		return nil, errors.Join(errs...)
	}
	c.mu.Lock()
	c.owner = owner
	c.mu.Unlock()
	return out, nil
}

func (c *Chain) lookup(name string) Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner[name]
}

func (c *Chain) Call(ctx context.Context, name string, args map[string]any, timeout time.Duration) CallResult {
	cat := c.lookup(name)
	if cat == nil {
		if _, err := c.ListFunctions(ctx); err != nil {
			return failed(err)
		}
		if cat = c.lookup(name); cat == nil {
			return failed(fmt.Errorf("%w: %s", ErrUnknownFunction, name))
		}
	}
	return cat.Call(ctx, name, args, timeout)
}
