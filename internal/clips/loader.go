package clips

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"

	"github.com/normanking/avatarstage/internal/catalog"
	"github.com/normanking/avatarstage/internal/metrics"
)

var ErrUnknownClip = errors.New("clip not in catalog")

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	Catalog   *catalog.Animations
	Fetcher   Fetcher
	Extension string     // appended to the clip name to form the asset file (default ".glb")
	Decode    DecodeFunc // default DecodeGLTF
	// FetchTimeout bounds one shared fetch independently of any caller
	// (default 30s).
	FetchTimeout time.Duration
	Logger       zerolog.Logger
}

// Loader fetches clips by name and memoizes them for the life of the process.
// The cache only ever holds catalog names and never evicts.
type Loader struct {
	catalog *catalog.Animations
	fetcher Fetcher
	ext     string
	decode  DecodeFunc
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	cache  map[string]*Clip
	flight singleflight.Group
}

// NewLoader creates a loader whose cache is sized to the catalog.
func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.DefaultAnimations()
	}
	if cfg.Extension == "" {
		cfg.Extension = ".glb"
	}
	if cfg.Decode == nil {
		cfg.Decode = DecodeGLTF
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &Loader{
		catalog: cfg.Catalog,
		fetcher: cfg.Fetcher,
		ext:     cfg.Extension,
		decode:  cfg.Decode,
		timeout: cfg.FetchTimeout,
		logger:  cfg.Logger.With().Str("component", "clips").Logger(),
		cache:   make(map[string]*Clip, cfg.Catalog.Len()),
	}
}

// Cached returns the clip for name if it has been loaded.
func (l *Loader) Cached(name string) (*Clip, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.cache[name]
	return c, ok
}

// Len returns the number of cached clips.
func (l *Loader) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.cache)
}

// Load returns the clip for name, fetching and decoding it on first use.
// Concurrent loads of the same name share one fetch, which outlives any single
// caller's cancellation. Failures are not cached.
func (l *Loader) Load(ctx context.Context, name string) (*Clip, error) {
	if !l.catalog.Contains(name) {
		metrics.ClipLoads.WithLabelValues("unknown").Inc()
		return nil, fmt.Errorf("%w: %q", ErrUnknownClip, name)
	}

	if c, ok := l.Cached(name); ok {
		metrics.ClipLoads.WithLabelValues("hit").Inc()
		return c, nil
	}

	ch := l.flight.DoChan(name, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		return l.fetch(fetchCtx, name)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			metrics.ClipLoads.WithLabelValues("error").Inc()
			return nil, res.Err
		}
		if res.Shared {
			metrics.ClipLoads.WithLabelValues("shared").Inc()
		}
		return res.Val.(*Clip), nil
	}
}

func (l *Loader) fetch(ctx context.Context, name string) (*Clip, error) {
	// a load may have finished between the cache check and joining the flight
	if c, ok := l.Cached(name); ok {
		return c, nil
	}

	start := time.Now()
	if l.fetcher == nil {
		return nil, fmt.Errorf("load clip %s: no asset fetcher configured", name)
	}

	file := name + l.ext
	data, err := l.fetcher.Fetch(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("load clip %s: %w", name, err)
	}

	clip, err := l.decode(bytes.NewReader(data), name)
	if err != nil {
		return nil, fmt.Errorf("load clip %s: %w", name, err)
	}
	clip.Name = name

	l.mu.Lock()
	l.cache[name] = clip
	l.mu.Unlock()

	metrics.ClipLoads.WithLabelValues("miss").Inc()
	metrics.ClipLoadDuration.Observe(time.Since(start).Seconds())
	l.logger.Debug().
		Str("clip", name).
		Int("tracks", len(clip.Tracks)).
		Float32("duration", clip.Duration).
		Dur("took", time.Since(start)).
		Msg("Clip loaded")

	return clip, nil
}

// Preload loads names concurrently and returns the joined errors.
func (l *Loader) Preload(ctx context.Context, names ...string) error {
	p := pool.New().WithMaxGoroutines(4).WithErrors().WithContext(ctx)
	for _, name := range names {
		name := name
		p.Go(func(ctx context.Context) error {
			_, err := l.Load(ctx, name)
			return err
		})
	}
	return p.Wait()
}
