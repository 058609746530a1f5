package plush

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	galleryCacheTTL     = 30 * time.Second
	galleryCacheTimeout = 300 * time.Millisecond
)

// galleryCache keeps a user's gallery listing in Redis for a short window.
// Cache failures degrade to database reads.
type galleryCache struct {
	client *redis.Client
}

func newGalleryCache(client *redis.Client) *galleryCache {
	if client == nil {
		return nil
	}
	return &galleryCache{client: client}
}

func (g *galleryCache) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), galleryCacheTimeout)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= galleryCacheTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, galleryCacheTimeout)
}

func (g *galleryCache) key(userID uint) string {
	if g == nil || g.client == nil || userID == 0 {
		return ""
	}
	return fmt.Sprintf("plush:gallery:%d", userID)
}

func (g *galleryCache) get(ctx context.Context, userID uint) ([]GenerationRecord, bool) {
	key := g.key(userID)
	if key == "" {
		return nil, false
	}

	ctx, cancel := g.cacheContext(ctx)
	defer cancel()

	raw, err := g.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var records []GenerationRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, false
	}
	return records, true
}

func (g *galleryCache) set(ctx context.Context, userID uint, records []GenerationRecord) {
	key := g.key(userID)
	if key == "" {
		return
	}

	raw, err := json.Marshal(records)
	if err != nil {
		return
	}

	ctx, cancel := g.cacheContext(ctx)
	defer cancel()

	if err := g.client.Set(ctx, key, raw, galleryCacheTTL).Err(); err != nil {
		log.Printf("plush: cache gallery for user %d: %v", userID, err)
	}
}

func (g *galleryCache) invalidate(ctx context.Context, userID uint) {
	key := g.key(userID)
	if key == "" {
		return
	}

	ctx, cancel := g.cacheContext(ctx)
	defer cancel()

	if err := g.client.Del(ctx, key).Err(); err != nil {
		log.Printf("plush: invalidate gallery cache for user %d: %v", userID, err)
	}
}
