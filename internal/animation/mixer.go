package animation

import (
	"math"
	"sync"

	"github.com/normanking/avatarstage/internal/clips"
)

// Action is a playing instance of a clip.
type Action struct {
	clip    *clips.Clip
	time    float32
	weight  float32
	loop    bool
	running bool
}

// ClipName returns the name of the clip the action plays.
func (a *Action) ClipName() string {
	if a == nil || a.clip == nil {
		return ""
	}
	return a.clip.Name
}

// Clip returns the underlying clip.
func (a *Action) Clip() *clips.Clip {
	return a.clip
}

// ActionState is a snapshot of one action inside a frame.
type ActionState struct {
	Clip   string  `json:"clip"`
	Time   float32 `json:"time"`
	Weight float32 `json:"weight"`
}

// Frame is what the renderer draws for one tick.
type Frame struct {
	Time    float64       `json:"time"`
	Actions []ActionState `json:"actions"`
	Pose    clips.Pose    `json:"-"`
}

// TransitionHandler is called once a cross-fade finishes and the outgoing
// actions have been removed. A fade taken over by a newer one never finishes.
type TransitionHandler func(from, to *Action)

// Mixer owns the running actions for one rig and advances their time.
type Mixer struct {
	mu         sync.Mutex
	actions    []*Action
	transition *Transition
	clock      float64
	onComplete TransitionHandler
}

// NewMixer creates an empty mixer.
func NewMixer() *Mixer {
	return &Mixer{}
}

// OnTransitionComplete registers the fade completion callback.
func (m *Mixer) OnTransitionComplete(h TransitionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onComplete = h
}

// ClipAction prepares a looping, stopped action for clip.
func (m *Mixer) ClipAction(clip *clips.Clip) *Action {
	return &Action{clip: clip, loop: true}
}

// Play starts action at full weight.
func (m *Mixer) Play(a *Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.running = true
	a.weight = 1
	if !m.containsLocked(a) {
		m.actions = append(m.actions, a)
	}
}

// CrossFade fades to in over duration seconds while every other action fades
// out from the weight it has now. Outgoing actions keep advancing and are
// removed once the fade completes. A fade already in flight is taken over
// from its current weights, so no action ever jumps.
func (m *Mixer) CrossFade(from, to *Action, duration float32, mode InterpolationMode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	toStart := float32(0)
	if m.containsLocked(to) {
		toStart = to.weight
	} else {
		to.weight = 0
		m.actions = append(m.actions, to)
	}
	to.running = true

	t := &Transition{
		From:     from,
		To:       to,
		Duration: duration,
		Mode:     mode,
		toStart:  toStart,
	}
	kept := make([]*Action, 0, len(m.actions))
	for _, a := range m.actions {
		switch {
		case a == to:
		case a.weight <= 0:
			a.running = false
			continue
		default:
			t.outgoing = append(t.outgoing, fadeOut{action: a, start: a.weight})
		}
		kept = append(kept, a)
	}
	m.actions = kept
	m.transition = t
	if duration <= 0 {
		t.apply(0)
	}
}

// Update advances every running action by dt seconds and progresses the
// active transition.
func (m *Mixer) Update(dt float32) {
	m.mu.Lock()
	m.clock += float64(dt)
	for _, a := range m.actions {
		if !a.running {
			continue
		}
		a.time += dt
		if d := a.clip.Duration; d > 0 {
			if a.loop {
				a.time = float32(math.Mod(float64(a.time), float64(d)))
			} else if a.time > d {
				a.time = d
			}
		}
	}

	var done *Transition
	if m.transition != nil {
		m.transition.apply(dt)
		if m.transition.IsComplete() {
			done = m.finishLocked()
		}
	}
	handler := m.onComplete
	m.mu.Unlock()

	if done != nil && handler != nil {
		handler(done.From, done.To)
	}
}

// finishLocked settles the active transition at full target weight and
// removes the faded-out actions.
func (m *Mixer) finishLocked() *Transition {
	t := m.transition
	m.transition = nil
	t.To.weight = 1
	for _, out := range t.outgoing {
		out.action.weight = 0
		out.action.running = false
		m.removeLocked(out.action)
	}
	return t
}

func (m *Mixer) containsLocked(a *Action) bool {
	for _, existing := range m.actions {
		if existing == a {
			return true
		}
	}
	return false
}

func (m *Mixer) removeLocked(a *Action) {
	for i, existing := range m.actions {
		if existing == a {
			m.actions = append(m.actions[:i], m.actions[i+1:]...)
			return
		}
	}
}

// Transition returns a snapshot of the active cross-fade, or nil.
func (m *Mixer) Transition() *TransitionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transition == nil {
		return nil
	}
	return m.transition.snapshot()
}

// Actions returns snapshots of the running actions.
func (m *Mixer) Actions() []ActionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statesLocked()
}

func (m *Mixer) statesLocked() []ActionState {
	out := make([]ActionState, 0, len(m.actions))
	for _, a := range m.actions {
		out = append(out, ActionState{Clip: a.ClipName(), Time: a.time, Weight: a.weight})
	}
	return out
}

// Frame samples every action and blends the poses by weight.
func (m *Mixer) Frame() Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := Frame{Time: m.clock, Actions: m.statesLocked()}

	var total float32
	for _, a := range m.actions {
		if a.weight <= 0 {
			continue
		}
		pose := a.clip.Sample(a.time)
		total += a.weight
		if f.Pose == nil {
			f.Pose = pose
			continue
		}
		f.Pose = clips.Blend(f.Pose, pose, a.weight/total)
	}
	return f
}
