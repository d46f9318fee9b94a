package cfg

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port                   string
	Environment            string
	LogLevel               string
	DatabasePath           string
	RedisURL               string
	RedisTLS               bool
	RedisUsername          string
	RedisPassword          Secret
	RedisTimeout           time.Duration
	LRUCacheSize           int
	RateLimit              RateLimitCfg
	MaxPasteSize           int64
	MaxExpire              time.Duration
	FloodThreshold         time.Duration
	CleanInterval          time.Duration
	TrustedProxies         []string
	MetricsUser            string
	MetricsPass            Secret
	Pepper                 Secret
	PepperFromKMS          bool
	DeleteTokenSecret      Secret
	ContextTimeout         time.Duration
	AllowedOrigins         []string
	DBMaxOpenConns         int
	DBMaxIdleConns         int
	DBQueryTimeout         time.Duration
	IPHashRotationInterval time.Duration
	DEKCacheTTL            time.Duration
}

type RateLimitCfg struct {
	RPM               int
	Burst             int
	ConservativeLimit int
}

// ClientCfg holds the settings of the command line client.
type ClientCfg struct {
	Origin         string
	RequestTimeout time.Duration
	Cipher         string
	KDFIterations  int
}

// LoadDotEnv loads the first .env file found. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "load %s", p)
		}
		return nil
	}
	return nil
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.DatabasePath = getEnv("DATABASE_PATH", "zerobin.db")
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisTLS = getBool("REDIS_TLS")
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	var err error
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.LRUCacheSize, err = getInt("LRU_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	c.RateLimit.RPM, err = getInt("RATE_LIMIT_RPM", 60)
	if err != nil {
		return nil, err
	}
	c.RateLimit.Burst, err = getInt("RATE_LIMIT_BURST", 10)
	if err != nil {
		return nil, err
	}
	c.RateLimit.ConservativeLimit, err = getInt("RATE_LIMIT_CONSERVATIVE", 5)
	if err != nil {
		return nil, err
	}
	c.MaxPasteSize, err = getInt64("MAX_PASTE_SIZE", 2*1024*1024)
	if err != nil {
		return nil, err
	}
	c.MaxExpire, err = getDuration("MAX_EXPIRE", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}
	c.FloodThreshold, err = getDuration("FLOOD_THRESHOLD", 10*time.Second)
	if err != nil {
		return nil, err
	}
	c.CleanInterval, err = getDuration("CLEAN_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.Pepper = NewSecret(getEnv("PEPPER", ""))
	c.PepperFromKMS = getBool("PEPPER_FROM_KMS")
	c.DeleteTokenSecret = NewSecret(getEnv("DELETE_TOKEN_SECRET", ""))
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})

	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 100)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.IPHashRotationInterval, err = getDuration("IP_HASH_ROTATION_INTERVAL", 1*time.Hour)
	if err != nil {
		return nil, err
	}
	c.DEKCacheTTL, err = getDuration("DEK_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func LoadClient() (*ClientCfg, error) {
	c := &ClientCfg{}
	c.Origin = getEnv("ZEROBIN_ORIGIN", "http://localhost:8080")
	c.Cipher = getEnv("CIPHER", "aes")
	var err error
	c.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	c.KDFIterations, err = getInt("KDF_ITERATIONS", 10000)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func ValidateClient(c *ClientCfg) error {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return fmt.Errorf("invalid ZEROBIN_ORIGIN: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("ZEROBIN_ORIGIN must be an http(s) URL")
	}
	if strings.Trim(u.Path, "/") != "" || u.RawQuery != "" || u.Fragment != "" {
		return errors.New("ZEROBIN_ORIGIN must not carry a path, query or fragment")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	if c.RequestTimeout > 5*time.Minute {
		return errors.New("REQUEST_TIMEOUT cannot exceed 5 minutes")
	}
	return nil
}

func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}

	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if c.DatabasePath != ":memory:" {
		workDir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		absWorkDir, err := filepath.Abs(workDir)
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		absDBPath, err := filepath.Abs(c.DatabasePath)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_PATH: %w", err)
		}
		if !strings.HasPrefix(absDBPath, absWorkDir+string(filepath.Separator)) && absDBPath != absWorkDir {
			return fmt.Errorf("DATABASE_PATH must be within working directory %s", absWorkDir)
		}
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
	}

	if c.LRUCacheSize <= 0 {
		return errors.New("LRU_CACHE_SIZE must be positive")
	}
	if c.RateLimit.RPM <= 0 {
		return errors.New("RATE_LIMIT_RPM must be positive")
	}

	if c.MaxPasteSize <= 0 {
		return errors.New("MAX_PASTE_SIZE must be positive")
	}
	if c.MaxPasteSize > 10*1024*1024 {
		return errors.New("MAX_PASTE_SIZE cannot exceed 10MB")
	}
	if c.MaxExpire < time.Minute {
		return errors.New("MAX_EXPIRE must be at least 1 minute")
	}
	if c.FloodThreshold < 0 {
		return errors.New("FLOOD_THRESHOLD cannot be negative")
	}
	if c.CleanInterval < time.Second {
		return errors.New("CLEAN_INTERVAL must be at least 1 second")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else {
			if net.ParseIP(proxy) == nil {
				return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
			}
		}
	}

	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	if !c.PepperFromKMS {
		if len(c.Pepper.Value()) == 0 {
			return errors.New("PEPPER is required if PEPPER_FROM_KMS is false")
		}
		if len(c.Pepper.Value()) < 32 {
			return errors.New("PEPPER must be at least 32 bytes")
		}
	}
	if v := c.DeleteTokenSecret.Value(); v != "" && len(v) < 32 {
		return errors.New("DELETE_TOKEN_SECRET must be at least 32 bytes")
	}

	if c.IPHashRotationInterval < 15*time.Minute {
		return errors.New("IP_HASH_ROTATION_INTERVAL must be at least 15 minutes")
	}
	if c.IPHashRotationInterval > 24*time.Hour {
		return errors.New("IP_HASH_ROTATION_INTERVAL should not exceed 24 hours")
	}
	if c.DEKCacheTTL < 1*time.Minute {
		return errors.New("DEK_CACHE_TTL must be at least 1 minute")
	}
	if c.DEKCacheTTL > 1*time.Hour {
		return errors.New("DEK_CACHE_TTL should not exceed 1 hour (security risk)")
	}

	return nil
}
func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
	c.Pepper.Wipe()
	c.DeleteTokenSecret.Wipe()
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getBool(key string) bool {
	v, err := strconv.ParseBool(getEnv(key, "false"))
	return err == nil && v
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
