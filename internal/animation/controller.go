package animation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/avatarstage/internal/bus"
	"github.com/normanking/avatarstage/internal/catalog"
	"github.com/normanking/avatarstage/internal/clips"
	"github.com/normanking/avatarstage/internal/metrics"
)

// Mode is the logical label of what the avatar is doing.
type Mode string

const (
	ModeNone   Mode = ""
	ModeIdle   Mode = "idle"
	ModeWave   Mode = "wave"
	ModeTalk   Mode = "talk"
	ModeCustom Mode = "custom"
)

// ClipSource loads clips by name.
type ClipSource interface {
	Load(ctx context.Context, name string) (*clips.Clip, error)
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	Catalog      *catalog.Animations
	Clips        ClipSource
	FadeDuration time.Duration
	FadeMode     InterpolationMode
	WaveClip     string
	TalkClip     string
	Bus          *bus.EventBus
	Logger       zerolog.Logger
}

// Controller owns the single current action of one rig.
type Controller struct {
	catalog  *catalog.Animations
	clips    ClipSource
	fade     float32
	fadeMode InterpolationMode
	waveClip string
	talkClip string
	bus      *bus.EventBus
	logger   zerolog.Logger

	mu      sync.Mutex
	mixer   *Mixer
	current *Action
	mode    Mode
	seq     uint64
}

// NewController creates a controller. It does nothing until a mixer is attached.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.DefaultAnimations()
	}
	if cfg.FadeDuration <= 0 {
		cfg.FadeDuration = DefaultFadeDuration
	}
	if cfg.WaveClip == "" {
		cfg.WaveClip = "wave"
	}
	if cfg.TalkClip == "" {
		cfg.TalkClip = "talk"
	}
	return &Controller{
		catalog:  cfg.Catalog,
		clips:    cfg.Clips,
		fade:     float32(cfg.FadeDuration.Seconds()),
		fadeMode: cfg.FadeMode,
		waveClip: cfg.WaveClip,
		talkClip: cfg.TalkClip,
		bus:      cfg.Bus,
		logger:   cfg.Logger.With().Str("component", "playback").Logger(),
	}
}

// Attach binds the controller to a rig's mixer. Plays issued before Attach
// are no-ops.
func (c *Controller) Attach(m *Mixer) {
	m.OnTransitionComplete(c.transitionComplete)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mixer = m
}

// Attached reports whether a mixer is bound.
func (c *Controller) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mixer != nil
}

// DefaultClip returns the idle clip name.
func (c *Controller) DefaultClip() string {
	return c.catalog.Default()
}

// Play makes name the current clip, cross-fading from the previous one.
// Unknown names fall back to the default idle clip with a warning. An empty
// name means the default. Requesting the current clip again does nothing.
// When calls overlap, the most recent request wins.
func (c *Controller) Play(ctx context.Context, name string) error {
	resolved, ok := c.catalog.Resolve(name)
	if !ok {
		c.logger.Warn().
			Str("requested", name).
			Str("fallback", resolved).
			Msg("Unknown animation, playing default")
		metrics.ClipFallbacks.Inc()
		c.bus.Publish(bus.Event{
			Type: bus.EventTypeClipFallback,
			Data: map[string]any{"requested": name, "clip": resolved},
		})
	}

	c.mu.Lock()
	if c.mixer == nil {
		c.mu.Unlock()
		c.logger.Debug().Str("clip", resolved).Msg("Play before rig loaded, ignoring")
		return nil
	}
	c.seq++
	seq := c.seq
	if c.current.ClipName() == resolved {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	clip, err := c.clips.Load(ctx, resolved)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		c.logger.Debug().Str("clip", resolved).Msg("Superseded play request discarded")
		return nil
	}
	if c.mixer == nil || c.current.ClipName() == resolved {
		c.mu.Unlock()
		return nil
	}

	previous := c.current
	action := c.mixer.ClipAction(clip)
	if previous != nil {
		c.mixer.CrossFade(previous, action, c.fade, c.fadeMode)
	} else {
		c.mixer.Play(action)
	}
	c.current = action
	c.mode = c.modeFor(resolved)
	mode := c.mode
	c.mu.Unlock()

	c.logger.Debug().
		Str("from", previous.ClipName()).
		Str("clip", resolved).
		Str("mode", string(mode)).
		Msg("Clip changed")
	c.bus.PublishSync(bus.Event{
		Type: bus.EventTypeClipChanged,
		Data: map[string]any{"clip": resolved, "from": previous.ClipName(), "mode": string(mode)},
	})
	return nil
}

// PlayOrIdle plays name and, when that fails to load, falls back to the
// default clip. The original load error is returned.
func (c *Controller) PlayOrIdle(ctx context.Context, name string) error {
	err := c.Play(ctx, name)
	if err == nil {
		return nil
	}
	c.logger.Warn().Err(err).Str("clip", name).Msg("Clip failed to load, falling back to default")
	if fbErr := c.Play(ctx, c.catalog.Default()); fbErr != nil {
		c.logger.Error().Err(fbErr).Msg("Default clip failed to load")
	}
	return err
}

func (c *Controller) modeFor(name string) Mode {
	switch name {
	case c.catalog.Default():
		return ModeIdle
	case c.waveClip:
		return ModeWave
	case c.talkClip:
		return ModeTalk
	default:
		return ModeCustom
	}
}

// Current returns the current action, nil before the first play.
func (c *Controller) Current() *Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// CurrentClip returns the name of the current clip, empty before the first play.
func (c *Controller) CurrentClip() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.ClipName()
}

// Mode returns the logical playback mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Transition returns the in-flight cross-fade, or nil.
func (c *Controller) Transition() *TransitionState {
	c.mu.Lock()
	m := c.mixer
	c.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Transition()
}

// Advance moves the mixer clock forward by dt seconds. Safe before Attach.
func (c *Controller) Advance(dt float32) {
	c.mu.Lock()
	m := c.mixer
	c.mu.Unlock()
	if m != nil {
		m.Update(dt)
	}
}

// Frame returns the blended frame, false before Attach.
func (c *Controller) Frame() (Frame, bool) {
	c.mu.Lock()
	m := c.mixer
	c.mu.Unlock()
	if m == nil {
		return Frame{}, false
	}
	return m.Frame(), true
}

func (c *Controller) transitionComplete(from, to *Action) {
	metrics.CrossFades.Inc()
	c.bus.Publish(bus.Event{
		Type: bus.EventTypeTransitionComplete,
		Data: map[string]any{"from": from.ClipName(), "to": to.ClipName()},
	})
}
