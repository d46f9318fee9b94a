package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"zerobin/cfg"
	"zerobin/pkg/domain"
)

const (
	pasteKeyPrefix = "zerobin:paste:"
	floodKeyPrefix = "zerobin:flood:"
)

var rateLimitScript = redis.NewScript(`
	local current = redis.call("GET", KEYS[1])
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end
	if current >= tonumber(ARGV[2]) then
		return current + 1
	end
	local new_val = redis.call("INCR", KEYS[1])
	if new_val == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return new_val
`)

type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRedis(url string, cfg *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if cfg.RedisTLS {
		tlsConfig, err := buildRedisTLSConfig()
		if err != nil {
			return nil, errors.Wrap(err, "failed to build Redis TLS config")
		}
		opt.TLSConfig = tlsConfig
	}
	if cfg.RedisUsername != "" {
		opt.Username = cfg.RedisUsername
	}
	if cfg.RedisPassword.Value() != "" {
		opt.Password = cfg.RedisPassword.Value()
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Redis{
		client:  client,
		timeout: cfg.RedisTimeout,
	}, nil
}
func buildRedisTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,
	}
	redisHostname := os.Getenv("REDIS_HOSTNAME")
	if redisHostname == "" {
		return nil, fmt.Errorf("REDIS_HOSTNAME must be set when REDIS_TLS=true")
	}
	tlsConfig.ServerName = redisHostname
	certPath := os.Getenv("REDIS_TLS_CA_CERT")
	if certPath != "" {
		caCert, err := os.ReadFile(certPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read Redis CA cert: %w", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append Redis CA cert to pool")
		}
		tlsConfig.RootCAs = certPool
	} else {
		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("failed to load system cert pool: %w", err)
		}
		tlsConfig.RootCAs = systemPool
	}
	env := os.Getenv("ENVIRONMENT")
	if env != "production" {
		devCertPath := os.Getenv("REDIS_TLS_DEV_CA")
		if devCertPath != "" {
			devCert, err := os.ReadFile(devCertPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read dev CA cert: %w", err)
			}
			if tlsConfig.RootCAs == nil {
				tlsConfig.RootCAs = x509.NewCertPool()
			}
			if !tlsConfig.RootCAs.AppendCertsFromPEM(devCert) {
				return nil, fmt.Errorf("failed to append dev CA cert")
			}
		}
	}
	return tlsConfig, nil
}
// CachePaste stores a paste record for ttl. Records are sealed, so the cache
// never holds readable paste text.
func (r *Redis) CachePaste(ctx context.Context, p *domain.PasteRecord, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal paste")
	}
	return errors.Wrap(r.client.Set(ctx, pasteKeyPrefix+p.ID, data, ttl).Err(), "set paste")
}

// GetPaste returns nil, nil on a cache miss.
func (r *Redis) GetPaste(ctx context.Context, id string) (*domain.PasteRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.client.Get(ctx, pasteKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get paste")
	}
	var p domain.PasteRecord
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "unmarshal paste")
	}
	return &p, nil
}
func (r *Redis) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Del(ctx, pasteKeyPrefix+id).Err(); err != nil {
		return errors.Wrap(err, "delete paste")
	}
	return nil
}

// MarkPost records a post from key for window. It returns false when key
// already posted inside the window.
func (r *Redis) MarkPost(ctx context.Context, key string, window time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("flood key cannot be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ok, err := r.client.SetNX(ctx, floodKeyPrefix+key, "1", window).Result()
	if err != nil {
		return false, errors.Wrap(err, "flood mark")
	}
	return ok, nil
}
// RateLimit counts a hit on key within window. The result exceeds limit once
// the window is exhausted; rejected hits are not counted.
func (r *Redis) RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	usage, err := rateLimitScript.Run(ctx, r.client, []string{key}, int(window.Milliseconds()), limit).Int()
	if err != nil {
		return 0, errors.Wrap(err, "rate limit lua")
	}
	return usage, nil
}
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
