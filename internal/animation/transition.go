// Package animation mixes looping clip actions and cross-fades between them.
package animation

import (
	"math"
	"time"
)

// InterpolationMode shapes the weight curve of a cross-fade.
type InterpolationMode int

const (
	InterpLinear InterpolationMode = iota
	InterpEaseInOut
	InterpEaseIn
	InterpEaseOut
)

func (m InterpolationMode) String() string {
	switch m {
	case InterpEaseInOut:
		return "ease-in-out"
	case InterpEaseIn:
		return "ease-in"
	case InterpEaseOut:
		return "ease-out"
	default:
		return "linear"
	}
}

// ParseInterpolationMode maps a config string to a mode, defaulting to linear.
func ParseInterpolationMode(s string) InterpolationMode {
	switch s {
	case "ease-in-out":
		return InterpEaseInOut
	case "ease-in":
		return InterpEaseIn
	case "ease-out":
		return InterpEaseOut
	default:
		return InterpLinear
	}
}

// DefaultFadeDuration is the cross-fade length between consecutive clips.
const DefaultFadeDuration = 400 * time.Millisecond

// Transition is an in-flight cross-fade. It is advanced by the mixer clock,
// not the wall clock.
type Transition struct {
	From     *Action
	To       *Action
	Duration float32 // seconds
	Elapsed  float32
	Mode     InterpolationMode

	outgoing []fadeOut
	toStart  float32
}

// fadeOut is an action leaving the blend and the weight it left from.
type fadeOut struct {
	action *Action
	start  float32
}

// Progress returns the eased completion fraction in [0, 1].
func (t *Transition) Progress() float32 {
	if t.Duration <= 0 || t.Elapsed >= t.Duration {
		return 1
	}

	progress := t.Elapsed / t.Duration

	switch t.Mode {
	case InterpEaseInOut:
		progress = easeInOutCubic(progress)
	case InterpEaseIn:
		progress = easeInCubic(progress)
	case InterpEaseOut:
		progress = easeOutCubic(progress)
	}

	return progress
}

// IsComplete reports whether the fade has run its full duration.
func (t *Transition) IsComplete() bool {
	return t.Elapsed >= t.Duration
}

// apply advances the fade by dt and writes the resulting weights.
func (t *Transition) apply(dt float32) {
	t.Elapsed += dt
	p := t.Progress()
	for _, out := range t.outgoing {
		out.action.weight = out.start * (1 - p)
	}
	t.To.weight = t.toStart + (1-t.toStart)*p
}

// TransitionState is a read-only snapshot of a Transition.
type TransitionState struct {
	From     string
	To       string
	Duration float32
	Elapsed  float32
	Progress float32
}

func (t *Transition) snapshot() *TransitionState {
	return &TransitionState{
		From:     t.From.ClipName(),
		To:       t.To.ClipName(),
		Duration: t.Duration,
		Elapsed:  t.Elapsed,
		Progress: t.Progress(),
	}
}

func easeInOutCubic(t float32) float32 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - float32(math.Pow(float64(-2*t+2), 3))/2
}

func easeInCubic(t float32) float32 {
	return t * t * t
}

func easeOutCubic(t float32) float32 {
	return 1 - float32(math.Pow(float64(1-t), 3))
}
