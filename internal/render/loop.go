// Package render drives the per-tick time advance of the playback controller.
package render

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Advancer moves animation time forward by dt seconds.
type Advancer interface {
	Advance(dt float32)
}

// Renderer presents the current frame after each advance.
type Renderer interface {
	Render(now time.Time)
}

// Config holds loop settings.
type Config struct {
	FPS      int
	MaxDelta time.Duration
}

// DefaultConfig returns a 60 fps loop with deltas clamped to 100ms.
func DefaultConfig() Config {
	return Config{FPS: 60, MaxDelta: 100 * time.Millisecond}
}

// Loop ticks at a fixed rate: advance, then render.
type Loop struct {
	advancer Advancer
	renderer Renderer
	interval time.Duration
	maxDelta float32
	logger   zerolog.Logger

	mu     sync.Mutex
	last   time.Time
	frames uint64
}

// NewLoop creates a loop. Either collaborator may be nil.
func NewLoop(cfg Config, advancer Advancer, renderer Renderer, logger zerolog.Logger) *Loop {
	if cfg.FPS <= 0 {
		cfg.FPS = 60
	}
	if cfg.MaxDelta <= 0 {
		cfg.MaxDelta = 100 * time.Millisecond
	}
	return &Loop{
		advancer: advancer,
		renderer: renderer,
		interval: time.Second / time.Duration(cfg.FPS),
		maxDelta: float32(cfg.MaxDelta.Seconds()),
		logger:   logger.With().Str("component", "render").Logger(),
	}
}

// Run ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Debug().Dur("interval", l.interval).Msg("Render loop started")

	fpsTimer := time.Now()
	var lastFrames uint64
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug().Uint64("frames", l.Frames()).Msg("Render loop ended")
			return ctx.Err()
		case now := <-ticker.C:
			l.Tick(now)

			if time.Since(fpsTimer) >= 10*time.Second {
				frames := l.Frames()
				l.logger.Debug().
					Float64("fps", float64(frames-lastFrames)/time.Since(fpsTimer).Seconds()).
					Msg("Render stats")
				lastFrames = frames
				fpsTimer = time.Now()
			}
		}
	}
}

// Tick performs one step and returns the delta applied, clamped to MaxDelta.
// The first tick applies a zero delta.
func (l *Loop) Tick(now time.Time) float32 {
	l.mu.Lock()
	var dt float32
	if !l.last.IsZero() {
		dt = float32(now.Sub(l.last).Seconds())
	}
	l.last = now
	if dt < 0 {
		dt = 0
	}
	if dt > l.maxDelta {
		dt = l.maxDelta
	}
	l.frames++
	l.mu.Unlock()

	if l.advancer != nil {
		l.advancer.Advance(dt)
	}
	if l.renderer != nil {
		l.renderer.Render(now)
	}
	return dt
}

// Frames returns the number of ticks performed.
func (l *Loop) Frames() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}
