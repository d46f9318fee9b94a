package kms

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"zerobin/svc/util"
)

type unwrapper interface {
	DecryptWithContext(ctx context.Context, ciphertext []byte, encContext EncryptionContext) ([]byte, error)
}

// DEKCache keeps unwrapped DEKs for a short TTL and collapses concurrent
// unwraps of the same key into one provider call.
type DEKCache struct {
	cache    sync.Map
	ttl      time.Duration
	adapter  unwrapper
	group    singleflight.Group
	stopChan chan struct{}
	stopped  bool
	mu       sync.Mutex
	now      func() time.Time
}

type cachedDEK struct {
	dek       []byte
	expiresAt time.Time
	mu        sync.RWMutex
}

func NewDEKCache(adapter *Adapter, ttl time.Duration) *DEKCache {
	return newDEKCache(adapter, ttl)
}

func newDEKCache(adapter unwrapper, ttl time.Duration) *DEKCache {
	c := &DEKCache{
		ttl:      ttl,
		adapter:  adapter,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
	go c.evictionLoop()
	return c
}

func (c *DEKCache) DecryptDEK(ctx context.Context, wrapped []byte, encContext EncryptionContext) ([]byte, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrProviderUnavailable
	}
	c.mu.Unlock()

	cacheKey := cacheKey(wrapped, encContext)
	if dek, ok := c.lookup(cacheKey); ok {
		return dek, nil
	}

	result, err, _ := c.group.Do(cacheKey, func() (interface{}, error) {
		if dek, ok := c.lookup(cacheKey); ok {
			return dek, nil
		}
		dek, err := c.adapter.DecryptWithContext(ctx, wrapped, encContext)
		if err != nil {
			return nil, err
		}
		jitter := hashToJitter(cacheKey, int64(c.ttl/10/time.Millisecond))
		entry := &cachedDEK{
			dek:       make([]byte, len(dek)),
			expiresAt: c.now().Add(c.ttl).Add(jitter),
		}
		copy(entry.dek, dek)
		c.cache.Store(cacheKey, entry)
		return dek, nil
	})
	if err != nil {
		return nil, err
	}
	shared := result.([]byte)
	out := make([]byte, len(shared))
	copy(out, shared)
	return out, nil
}

func (c *DEKCache) lookup(key string) ([]byte, bool) {
	cached, ok := c.cache.Load(key)
	if !ok {
		return nil, false
	}
	entry := cached.(*cachedDEK)
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	if entry.dek == nil || !c.now().Before(entry.expiresAt) {
		c.cache.Delete(key)
		return nil, false
	}
	dek := make([]byte, len(entry.dek))
	copy(dek, entry.dek)
	return dek, true
}

func cacheKey(wrapped []byte, encContext EncryptionContext) string {
	h := sha256.New()
	h.Write(serializeEncryptionContext(encContext))
	h.Write([]byte{0})
	h.Write(wrapped)
	return hex.EncodeToString(h.Sum(nil))
}

func hashToJitter(hashStr string, maxJitterMillis int64) time.Duration {
	if maxJitterMillis <= 0 {
		return 0
	}
	var sum int64
	for i := 0; i < len(hashStr) && i < 16; i++ {
		sum += int64(hashStr[i])
	}
	return time.Duration(sum%maxJitterMillis) * time.Millisecond
}

func (c *DEKCache) evictionLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *DEKCache) evictExpired() {
	now := c.now()
	c.cache.Range(func(key, value interface{}) bool {
		entry := value.(*cachedDEK)
		entry.mu.Lock()
		if !now.Before(entry.expiresAt) {
			util.Wipe(entry.dek)
			entry.dek = nil
			c.cache.Delete(key)
		}
		entry.mu.Unlock()
		return true
	})
}

func (c *DEKCache) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopChan)
	c.mu.Unlock()

	c.cache.Range(func(key, value interface{}) bool {
		entry := value.(*cachedDEK)
		entry.mu.Lock()
		util.Wipe(entry.dek)
		entry.dek = nil
		entry.mu.Unlock()
		c.cache.Delete(key)
		return true
	})
}

func (c *DEKCache) Stats() CacheStats {
	var stats CacheStats
	now := c.now()
	c.cache.Range(func(key, value interface{}) bool {
		stats.Entries++
		entry := value.(*cachedDEK)
		entry.mu.RLock()
		if !now.Before(entry.expiresAt) {
			stats.Expired++
		}
		entry.mu.RUnlock()
		return true
	})
	return stats
}

type CacheStats struct {
	Entries int
	Expired int
}
