package svc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"zerobin/cfg"
	"zerobin/metrics"
	"zerobin/pkg/domain"
	"zerobin/pkg/kms"
	"zerobin/svc/avatar"
	"zerobin/svc/cache"
	"zerobin/svc/db"
	"zerobin/svc/lim"
	"zerobin/svc/util"

	"github.com/pkg/errors"
)

// cacheTTL bounds how long a record sits in the shared cache when the paste
// itself never expires.
const cacheTTL = time.Hour

var errShuttingDown = errors.New("service shutting down")

type Paste struct {
	db      *db.SQLite
	lru     *cache.LRU
	rdb     *db.Redis
	sealer  *kms.Sealer
	tokens  *util.DeleteTokens
	hasher  *util.IPHasher
	flood   *lim.Flood
	avatars *avatar.Identicon
	cfg     *cfg.Cfg

	now         func() time.Time
	shutdown    atomic.Bool
	opWg        sync.WaitGroup
	cleanerOnce sync.Once
}

// NewPaste wires the paste service. rdb may be nil when redis is not configured.
func NewPaste(sqlDB *db.SQLite, lru *cache.LRU, rdb *db.Redis, sealer *kms.Sealer, tokens *util.DeleteTokens,
	hasher *util.IPHasher, flood *lim.Flood, avatars *avatar.Identicon, c *cfg.Cfg) *Paste {
	if sqlDB == nil || lru == nil || sealer == nil || tokens == nil || hasher == nil || flood == nil || avatars == nil || c == nil {
		panic("paste service: nil dependency")
	}
	return &Paste{
		db:      sqlDB,
		lru:     lru,
		rdb:     rdb,
		sealer:  sealer,
		tokens:  tokens,
		hasher:  hasher,
		flood:   flood,
		avatars: avatars,
		cfg:     c,
		now:     time.Now,
	}
}

func (p *Paste) begin() error {
	if p.shutdown.Load() {
		return errShuttingDown
	}
	p.opWg.Add(1)
	return nil
}

// Draining reports whether Shutdown has been called.
func (p *Paste) Draining() bool {
	return p.shutdown.Load()
}

// Shutdown rejects new operations and waits for running ones.
func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	done := make(chan struct{})
	go func() {
		p.opWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("paste operations didn't finish in time")
	}
	util.Debug().Msg("paste service shutdown complete")
}

func (p *Paste) expiry(d time.Duration) (time.Duration, error) {
	switch {
	case d < 0 || d > p.cfg.MaxExpire:
		return 0, domain.ErrInvalidExpire
	case d == 0:
		return p.cfg.MaxExpire, nil
	}
	return d, nil
}

func (p *Paste) floodCheck(ctx context.Context, ip string) error {
	key, err := p.hasher.HashIP(ip)
	if err != nil {
		return errors.Wrap(err, "hash client ip")
	}
	if !p.flood.Allow(ctx, key) {
		return domain.ErrFlood
	}
	return nil
}

func (p *Paste) newID(ctx context.Context) (string, error) {
	id, err := util.GenID(func(id string) (bool, error) {
		return p.db.Exists(ctx, id)
	})
	if err != nil {
		util.Error().Err(err).Msg("id generation failed")
		return "", domain.ErrIDGenerationFailed
	}
	return id, nil
}

func (p *Paste) CreatePaste(ctx context.Context, params domain.CreatePasteParams) (*domain.PasteCreated, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()

	if params.Data == "" {
		return nil, domain.ErrContentRequired
	}
	if int64(len(params.Data)) > p.cfg.MaxPasteSize {
		return nil, domain.ErrPasteTooLarge
	}
	ttl, err := p.expiry(params.Expire)
	if err != nil {
		return nil, err
	}
	if err := p.floodCheck(ctx, params.ClientIP); err != nil {
		return nil, err
	}
	id, err := p.newID(ctx)
	if err != nil {
		return nil, err
	}
	dek, wrapped, err := p.sealer.NewDEK(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "new dek")
	}
	defer util.Wipe(dek)
	sealed, err := kms.AEADSeal([]byte(params.Data), dek, kms.Label("data", id))
	if err != nil {
		return nil, errors.Wrap(err, "seal paste")
	}
	metrics.EncryptionOps.WithLabelValues("seal").Inc()

	ipHash, _ := p.hasher.HashIP(params.ClientIP)
	now := p.now().Truncate(time.Second)
	rec := &domain.PasteRecord{
		ID:           id,
		Sealed:       sealed,
		EncryptedDEK: wrapped,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		Burn:         params.Burn,
		// one-time pastes cannot carry a discussion
		Discussion: params.Discussion && !params.Burn,
		Highlight:  params.Highlight,
		IPHash:     ipHash,
	}
	if err := p.db.Create(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "create paste")
	}
	if !rec.Burn {
		p.cache(ctx, rec)
	}
	metrics.PasteCreated.Inc()
	util.Info().Str("id", id).Bool("burn", rec.Burn).Bool("discussion", rec.Discussion).Msg("paste created")

	return &domain.PasteCreated{
		ID:       id,
		Delete:   p.tokens.Issue(id),
		PostDate: rec.CreatedAt.Unix(),
		Expire:   rec.ExpiresAt.Unix(),
	}, nil
}

func (p *Paste) CreateComment(ctx context.Context, params domain.CreateCommentParams) (*domain.CommentCreated, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()

	if params.Data == "" {
		return nil, domain.ErrContentRequired
	}
	if int64(len(params.Data)+len(params.Author)) > p.cfg.MaxPasteSize {
		return nil, domain.ErrPasteTooLarge
	}
	if !util.ValidID(params.PasteID) {
		return nil, domain.ErrPasteNotFound
	}
	rec, err := p.load(ctx, params.PasteID)
	if err != nil {
		return nil, err
	}
	if !rec.Discussion {
		return nil, domain.ErrDiscussionDisabled
	}
	parent := params.Parent
	if parent == "" {
		parent = rec.ID
	}
	if parent != rec.ID {
		ok, err := p.db.CommentExists(ctx, rec.ID, parent)
		if err != nil {
			return nil, errors.Wrap(err, "check parent")
		}
		if !ok {
			return nil, domain.ErrParentNotFound
		}
	}
	if err := p.floodCheck(ctx, params.ClientIP); err != nil {
		return nil, err
	}

	id, err := p.newID(ctx)
	if err != nil {
		return nil, err
	}
	dek, err := p.sealer.DEK(ctx, rec.ID, rec.EncryptedDEK)
	if err != nil {
		return nil, errors.Wrap(err, "unwrap dek")
	}
	defer util.Wipe(dek)
	sealed, err := kms.AEADSeal([]byte(params.Data), dek, kms.Label("comment", id))
	if err != nil {
		return nil, errors.Wrap(err, "seal comment")
	}
	var sealedAuthor []byte
	if params.Author != "" {
		if sealedAuthor, err = kms.AEADSeal([]byte(params.Author), dek, kms.Label("author", id)); err != nil {
			return nil, errors.Wrap(err, "seal author")
		}
	}
	metrics.EncryptionOps.WithLabelValues("seal").Inc()

	seed, err := p.hasher.Fingerprint(params.ClientIP)
	if err != nil {
		return nil, errors.Wrap(err, "fingerprint")
	}
	av, err := p.avatars.Render(seed)
	if err != nil {
		return nil, errors.Wrap(err, "render avatar")
	}

	c := &domain.CommentRecord{
		ID:           id,
		PasteID:      rec.ID,
		Parent:       parent,
		Sealed:       sealed,
		SealedAuthor: sealedAuthor,
		Avatar:       av,
		CreatedAt:    p.now().Truncate(time.Second),
		Highlight:    params.Highlight,
	}
	if err := p.db.CreateComment(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create comment")
	}
	metrics.CommentCreated.Inc()
	util.Info().Str("paste", rec.ID).Str("id", id).Msg("comment created")
	return &domain.CommentCreated{ID: id, PostDate: c.CreatedAt.Unix(), Avatar: av}, nil
}

// Get returns the paste with its discussion. A burn-after-read paste is
// deleted by this call; of concurrent readers only the one whose delete
// succeeds receives it.
func (p *Paste) Get(ctx context.Context, id string) (*domain.Paste, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()

	if !util.ValidID(id) {
		return nil, domain.ErrPasteNotFound
	}
	rec, err := p.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Burn {
		won, err := p.db.Delete(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, "burn paste")
		}
		p.evict(ctx, id)
		if !won {
			return nil, domain.ErrPasteNotFound
		}
		metrics.PasteDeleted.WithLabelValues(metrics.ReasonBurn).Inc()
		util.Info().Str("id", id).Msg("paste burned after read")
	}

	dek, err := p.sealer.DEK(ctx, id, rec.EncryptedDEK)
	if err != nil {
		return nil, errors.Wrap(err, "unwrap dek")
	}
	defer util.Wipe(dek)
	data, err := kms.AEADOpen(rec.Sealed, dek, kms.Label("data", id))
	if err != nil {
		return nil, errors.Wrap(err, "open paste")
	}
	metrics.EncryptionOps.WithLabelValues("open").Inc()

	out := &domain.Paste{
		ID:         id,
		Data:       string(data),
		PostDate:   rec.CreatedAt.Unix(),
		Burn:       rec.Burn,
		Discussion: rec.Discussion,
		Highlight:  rec.Highlight,
	}
	if !rec.ExpiresAt.IsZero() {
		out.Expire = rec.ExpiresAt.Unix()
	}
	if rec.Discussion {
		if out.Comments, err = p.comments(ctx, id, dek); err != nil {
			return nil, err
		}
	}
	metrics.PasteRetrieved.Inc()
	return out, nil
}

func (p *Paste) comments(ctx context.Context, pasteID string, dek []byte) ([]domain.Comment, error) {
	recs, err := p.db.ListComments(ctx, pasteID)
	if err != nil {
		return nil, errors.Wrap(err, "list comments")
	}
	out := make([]domain.Comment, 0, len(recs))
	for _, r := range recs {
		data, err := kms.AEADOpen(r.Sealed, dek, kms.Label("comment", r.ID))
		if err != nil {
			return nil, errors.Wrapf(err, "open comment %s", r.ID)
		}
		c := domain.Comment{
			ID:        r.ID,
			Parent:    r.Parent,
			Data:      string(data),
			PostDate:  r.CreatedAt.Unix(),
			Avatar:    r.Avatar,
			Highlight: r.Highlight,
		}
		if r.SealedAuthor != nil {
			author, err := kms.AEADOpen(r.SealedAuthor, dek, kms.Label("author", r.ID))
			if err != nil {
				return nil, errors.Wrapf(err, "open author %s", r.ID)
			}
			c.Author = string(author)
		}
		out = append(out, c)
	}
	metrics.EncryptionOps.WithLabelValues("open").Add(float64(len(recs)))
	domain.SortComments(out)
	return out, nil
}

// Delete removes a paste and its discussion when token matches.
func (p *Paste) Delete(ctx context.Context, id, token string) error {
	if err := p.begin(); err != nil {
		return err
	}
	defer p.opWg.Done()

	if !util.ValidID(id) {
		return domain.ErrPasteNotFound
	}
	if _, err := p.load(ctx, id); err != nil {
		return err
	}
	if err := p.tokens.Verify(id, token); err != nil {
		util.Warn().Str("id", id).Str("token", util.RedactToken(token)).Msg("wrong delete token")
		return domain.ErrWrongDeleteToken
	}
	won, err := p.db.Delete(ctx, id)
	if err != nil {
		return errors.Wrap(err, "delete paste")
	}
	p.evict(ctx, id)
	if !won {
		return domain.ErrPasteNotFound
	}
	metrics.PasteDeleted.WithLabelValues(metrics.ReasonToken).Inc()
	util.Info().Str("id", id).Msg("paste deleted via token")
	return nil
}

// load finds a live record through the lru, redis and sqlite in turn.
// Expired pastes are purged on sight.
func (p *Paste) load(ctx context.Context, id string) (*domain.PasteRecord, error) {
	rec := p.lru.Get(ctx, id)
	if rec == nil && p.rdb != nil {
		var err error
		if rec, err = p.rdb.GetPaste(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("redis lookup failed")
			rec = nil
		}
	}
	if rec != nil {
		metrics.CacheHits.Inc()
	} else {
		metrics.CacheMisses.Inc()
		var err error
		if rec, err = p.db.Get(ctx, id); err != nil {
			if errors.Is(err, domain.ErrPasteNotFound) {
				return nil, domain.ErrPasteNotFound
			}
			return nil, errors.Wrap(err, "get paste")
		}
		if !rec.Burn && !rec.Expired(p.now()) {
			p.cache(ctx, rec)
		}
	}
	if rec.Expired(p.now()) {
		if won, err := p.db.Delete(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to purge expired paste")
		} else if won {
			metrics.PasteDeleted.WithLabelValues(metrics.ReasonExpired).Inc()
		}
		p.evict(ctx, id)
		return nil, domain.ErrPasteExpired
	}
	return rec, nil
}

func (p *Paste) cache(ctx context.Context, rec *domain.PasteRecord) {
	ttl := cacheTTL
	if !rec.ExpiresAt.IsZero() {
		if left := rec.ExpiresAt.Sub(p.now()); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return
	}
	p.lru.Set(ctx, rec, ttl)
	if p.rdb != nil {
		if err := p.rdb.CachePaste(ctx, rec, ttl); err != nil {
			util.Warn().Err(err).Str("id", rec.ID).Msg("failed to cache in redis")
		}
	}
}

func (p *Paste) evict(ctx context.Context, id string) {
	p.lru.Delete(id)
	if p.rdb != nil {
		if err := p.rdb.Delete(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to delete from redis")
		}
	}
}

// StartCleaner removes expired pastes every interval until ctx is done.
// Only the first call starts a worker.
func (p *Paste) StartCleaner(ctx context.Context, interval time.Duration) {
	p.cleanerOnce.Do(func() {
		go p.runCleaner(ctx, interval)
	})
}

func (p *Paste) runCleaner(ctx context.Context, interval time.Duration) {
	cleanupRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, cleanupRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", cleanupRequestID).
		Dur("interval", interval).
		Msg("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", cleanupRequestID).
				Msg("cleanup worker shutting down")
			return
		case <-ticker.C:
			p.cleanOnce(ctx)
		}
	}
}

func (p *Paste) cleanOnce(ctx context.Context) int {
	metrics.PruneCycles.Inc()
	deleted, err := p.db.CleanupExpired(ctx)
	if err != nil {
		util.Error().
			Err(err).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("cleanup failed")
		return 0
	}
	if deleted > 0 {
		metrics.PasteDeleted.WithLabelValues(metrics.ReasonExpired).Add(float64(deleted))
		util.Info().
			Int("deleted", deleted).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("cleanup completed")
	}
	return deleted
}
