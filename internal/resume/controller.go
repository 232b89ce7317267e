// Package resume decides which entities still need fetching, so an interrupted crawl can restart
// without repeating detail requests for entities already stored.
package resume

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/JakeFAU/fightgraph-crawler/internal/ingest"
	"github.com/JakeFAU/fightgraph-crawler/internal/store"
)

const defaultCacheSize = 10000

// Controller answers ShouldSkip from the store. A stored link never disappears, so positive answers
// are cached; negative answers are always checked again.
type Controller struct {
	finder store.Finder
	known  *lru.Cache
	logger *zap.Logger
}

// New constructs a Controller with an LRU of cacheSize known links.
func New(finder store.Finder, cacheSize int, logger *zap.Logger) (*Controller, error) {
	if finder == nil {
		return nil, fmt.Errorf("resume controller requires a store")
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	known, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create known-link cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{finder: finder, known: known, logger: logger}, nil
}

// ShouldSkip reports whether collection already holds an entity identified by link. On error the
// caller should fetch anyway.
func (c *Controller) ShouldSkip(ctx context.Context, link string, collection ingest.Collection) (bool, error) {
	key := string(collection) + "\x00" + link
	if _, ok := c.known.Get(key); ok {
		return true, nil
	}
	field := ingest.IdentityField(collection)
	_, found, err := c.finder.FindOne(ctx, string(collection), field, link)
	if err != nil {
		return false, fmt.Errorf("check %s.%s: %w", collection, field, err)
	}
	if found {
		c.known.Add(key, struct{}{})
		c.logger.Debug("entity already stored",
			zap.String("collection", string(collection)),
			zap.String("url", link),
		)
	}
	return found, nil
}

// Remember marks link as stored without a lookup.
func (c *Controller) Remember(link string, collection ingest.Collection) {
	c.known.Add(string(collection)+"\x00"+link, struct{}{})
}
