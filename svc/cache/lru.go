package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"zerobin/pkg/domain"
)

const maxSize = 100000

// LRU is the in-process paste record cache. Entries never outlive the paste.
type LRU struct {
	c   *lru.Cache[string, item]
	mu  sync.Mutex
	now func() time.Time
}
type item struct {
	paste *domain.PasteRecord
	exp   time.Time
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > maxSize {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c, now: time.Now}, nil
}
func (l *LRU) Get(ctx context.Context, id string) *domain.PasteRecord {
	select {
	case <-ctx.Done():
		return nil
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.c.Get(id)
	if !ok {
		return nil
	}
	if !l.now().Before(it.exp) {
		l.c.Remove(id)
		return nil
	}
	return it.paste
}

// Set caches p for ttl, capped at the paste's own expiry.
func (l *LRU) Set(ctx context.Context, p *domain.PasteRecord, ttl time.Duration) {
	exp := l.now().Add(ttl)
	if !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(exp) {
		exp = p.ExpiresAt
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Add(p.ID, item{
		paste: p,
		exp:   exp,
	})
}
func (l *LRU) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Remove(id)
}
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.Len()
}
