package tts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarstage/internal/metrics"
)

// ErrCacheMiss is returned by a Store when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Store is the byte cache behind CachedProvider.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisConfig configures the redis store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps synthesized audio in redis.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return value, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// Close closes the redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// CachedProvider memoizes synthesized audio by provider, voice, speed and text.
// Cache failures degrade to calling the inner provider.
type CachedProvider struct {
	inner  Provider
	store  Store
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedProvider(inner Provider, store Store, ttl time.Duration, logger zerolog.Logger) *CachedProvider {
	return &CachedProvider{
		inner:  inner,
		store:  store,
		ttl:    ttl,
		logger: logger.With().Str("provider", "tts-cache").Logger(),
	}
}

func (c *CachedProvider) Name() string {
	return c.inner.Name()
}

func (c *CachedProvider) Health(ctx context.Context) error {
	return c.inner.Health(ctx)
}

func (c *CachedProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key := c.key(req)
	startTime := time.Now()

	if value, err := c.store.Get(ctx, key); err == nil {
		if format, audio, ok := bytes.Cut(value, []byte{0}); ok && len(audio) > 0 {
			metrics.TTSCache.WithLabelValues("hit").Inc()
			return &SynthesizeResponse{
				Audio:          audio,
				Format:         string(format),
				ProcessingTime: time.Since(startTime),
				VoiceID:        req.VoiceID,
				Provider:       c.inner.Name(),
				Cached:         true,
			}, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		metrics.TTSCache.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Msg("TTS cache read failed")
	}

	metrics.TTSCache.WithLabelValues("miss").Inc()
	resp, err := c.inner.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}

	value := make([]byte, 0, len(resp.Format)+1+len(resp.Audio))
	value = append(value, resp.Format...)
	value = append(value, 0)
	value = append(value, resp.Audio...)
	if err := c.store.Set(ctx, key, value, c.ttl); err != nil {
		c.logger.Warn().Err(err).Msg("TTS cache write failed")
	}

	return resp, nil
}

func (c *CachedProvider) key(req *SynthesizeRequest) string {
	h := sha256.New()
	h.Write([]byte(c.inner.Name()))
	h.Write([]byte{0})
	h.Write([]byte(req.VoiceID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(req.Speed, 'f', 2, 64)))
	h.Write([]byte{0})
	h.Write([]byte(req.Text))
	return "avatarstage:tts:" + hex.EncodeToString(h.Sum(nil))
}
