package memory

import (
	"time"

	"github.com/YixiaoOneSmile/QMChatStudio/internal/entity"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// ListingCache keeps the per-user conversation listing in memory so the
// sidebar poll does not hit Postgres on every request. Entries are dropped
// whenever any mutation touches a conversation owned by that user.
type ListingCache struct {
	cache *cache.Cache
}

func NewListingCache() *ListingCache {
	// Short default expiration; listings go stale quickly while a stream
	// is running, so correctness relies on explicit invalidation.
	c := cache.New(5*time.Minute, 10*time.Minute)
	return &ListingCache{
		cache: c,
	}
}

func (r *ListingCache) Get(userId uuid.UUID) ([]*entity.Conversation, bool) {
	if x, found := r.cache.Get(userId.String()); found {
		return x.([]*entity.Conversation), true
	}
	return nil, false
}

func (r *ListingCache) Save(userId uuid.UUID, conversations []*entity.Conversation) {
	r.cache.Set(userId.String(), conversations, cache.DefaultExpiration)
}

func (r *ListingCache) Invalidate(userId uuid.UUID) {
	r.cache.Delete(userId.String())
}
