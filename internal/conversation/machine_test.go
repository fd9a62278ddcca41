package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/avatarstage/internal/bus"
	"github.com/normanking/avatarstage/internal/catalog"
	"github.com/normanking/avatarstage/internal/chat"
	"github.com/normanking/avatarstage/internal/tts"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type fakeChat struct {
	mu       sync.Mutex
	reply    string
	err      error
	gate     chan struct{}
	requests []chat.Request
}

func (f *fakeChat) Name() string { return "fake" }

func (f *fakeChat) Complete(ctx context.Context, req *chat.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, *req)
	gate, reply, err := f.gate, f.reply, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, err
}

func (f *fakeChat) calls() []chat.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Request(nil), f.requests...)
}

type fakeTTS struct {
	mu    sync.Mutex
	err   error
	gate  chan struct{}
	texts []string
}

func (f *fakeTTS) Name() string                 { return "fake" }
func (f *fakeTTS) Health(context.Context) error { return nil }

func (f *fakeTTS) Synthesize(ctx context.Context, req *tts.SynthesizeRequest) (*tts.SynthesizeResponse, error) {
	f.mu.Lock()
	f.texts = append(f.texts, req.Text)
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &tts.SynthesizeResponse{Audio: []byte("mp3:" + req.Text), Format: "mp3", VoiceID: req.VoiceID}, nil
}

func (f *fakeTTS) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeCapture struct {
	active  atomic.Bool
	pauses  atomic.Int32
	resumes atomic.Int32
}

func (c *fakeCapture) Pause() {
	c.active.Store(false)
	c.pauses.Add(1)
}

func (c *fakeCapture) Resume() {
	c.active.Store(true)
	c.resumes.Add(1)
}

type fakePlayer struct {
	mu    sync.Mutex
	err   error
	turns []string
	audio [][]byte
}

func (p *fakePlayer) Play(_ context.Context, turn string, audio *tts.SynthesizeResponse) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turn)
	p.audio = append(p.audio, audio.Audio)
	return p.err
}

func (p *fakePlayer) played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.turns...)
}

type fakeAnimator struct {
	mu    sync.Mutex
	clips []string
}

func (a *fakeAnimator) PlayOrIdle(_ context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clips = append(a.clips, name)
	return nil
}

func (a *fakeAnimator) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.clips) == 0 {
		return ""
	}
	return a.clips[len(a.clips)-1]
}

func (a *fakeAnimator) played(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.clips {
		if c == name {
			return true
		}
	}
	return false
}

type harness struct {
	m        *Machine
	chat     *fakeChat
	tts      *fakeTTS
	capture  *fakeCapture
	player   *fakePlayer
	animator *fakeAnimator
	bus      *bus.EventBus
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		chat:     &fakeChat{reply: "howdy"},
		tts:      &fakeTTS{},
		capture:  &fakeCapture{},
		player:   &fakePlayer{},
		animator: &fakeAnimator{},
		bus:      bus.NewEventBus(),
	}
	cfg := Config{
		Chat:     h.chat,
		TTS:      h.tts,
		Capture:  h.capture,
		Player:   h.player,
		Animator: h.animator,
		Bus:      h.bus,
		Logger:   zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	h.m = m
	t.Cleanup(m.Close)
	return h
}

func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.State() == s }, waitFor, tick, "want state %s", s)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{TTS: &fakeTTS{}})
	assert.Error(t, err)
	_, err = New(Config{Chat: &fakeChat{}})
	assert.Error(t, err)
}

func TestMachine_StartResumesCapture(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.m.Snapshot().Capturing)

	h.m.Start()
	snap := h.m.Snapshot()
	assert.True(t, snap.Capturing)
	assert.Equal(t, "idle", snap.StateName)
	assert.True(t, h.capture.active.Load())
	require.Eventually(t, func() bool { return h.animator.played("idle") }, waitFor, tick)
}

func TestMachine_InactiveBeforeStart(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.m.HandleTranscript("hello bob"))
	assert.ErrorIs(t, h.m.Speak("hi"), ErrInactive)
	assert.Empty(t, h.chat.calls())
}

func TestMachine_FullTurn(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Start()

	require.True(t, h.m.HandleTranscript("  hello bob "))
	require.Eventually(t, func() bool { return len(h.player.played()) == 1 }, waitFor, tick)

	calls := h.chat.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "hello bob", calls[0].Prompt)
	assert.Equal(t, []string{"howdy"}, h.tts.spoken())

	snap := h.m.Snapshot()
	assert.Equal(t, StateSpeaking, snap.State)
	assert.False(t, snap.Capturing)
	assert.False(t, h.capture.active.Load())
	assert.Equal(t, h.player.played()[0], snap.Turn)
	require.Eventually(t, func() bool { return h.animator.last() == "talk" }, waitFor, tick)

	assert.True(t, h.m.PlaybackEnded(snap.Turn))
	snap = h.m.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.True(t, snap.Capturing)
	assert.Empty(t, snap.Turn)
	require.Eventually(t, func() bool { return h.animator.last() == "idle" }, waitFor, tick)
}

func TestMachine_CapturePausedWheneverSpeaking(t *testing.T) {
	h := newHarness(t, nil)

	var violations atomic.Int32
	h.bus.Subscribe(bus.EventTypeStateChanged, func(e bus.Event) {
		if e.Data["to"] == "speaking" && h.capture.active.Load() {
			violations.Add(1)
		}
	})
	h.m.Start()

	for i := 0; i < 3; i++ {
		require.True(t, h.m.HandleTranscript("tell me something"))
		h.waitState(t, StateSpeaking)
		assert.False(t, h.m.Snapshot().Capturing)
		require.True(t, h.m.PlaybackEnded(""))
		assert.True(t, h.m.Snapshot().Capturing)
	}
	assert.Zero(t, violations.Load())
	assert.Equal(t, int32(3), h.capture.pauses.Load())
}

func TestMachine_DropsWhileProcessing(t *testing.T) {
	h := newHarness(t, nil)
	h.chat.gate = make(chan struct{})
	h.m.Start()

	require.True(t, h.m.HandleTranscript("first"))
	assert.Equal(t, StateProcessing, h.m.State())
	assert.False(t, h.m.HandleTranscript("second"))
	assert.False(t, h.m.HandleTranscript("third"))
	assert.ErrorIs(t, h.m.Speak("hello"), ErrBusy)

	close(h.chat.gate)
	h.waitState(t, StateSpeaking)
	assert.Len(t, h.chat.calls(), 1)
}

func TestMachine_DropsWhileSpeaking(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Start()

	require.True(t, h.m.HandleTranscript("hello"))
	h.waitState(t, StateSpeaking)
	assert.False(t, h.m.HandleTranscript("are you there"))
	assert.Len(t, h.chat.calls(), 1)
}

func TestMachine_DropsFillerOnly(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Start()

	for _, text := range []string{"", "   ", "um", "uh, hmm...", "?!"} {
		assert.False(t, h.m.HandleTranscript(text), text)
	}
	assert.Equal(t, StateIdle, h.m.State())
	assert.Empty(t, h.chat.calls())
}

func TestMachine_ChatFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.chat.err = &chat.UpstreamError{Provider: "http", Status: 500, Message: "boom"}

	failed := make(chan bus.Event, 1)
	h.bus.Subscribe(bus.EventTypeTurnFailed, func(e bus.Event) { failed <- e })
	h.m.Start()

	require.True(t, h.m.HandleTranscript("hello"))
	select {
	case e := <-failed:
		assert.Equal(t, "chat", e.Data["stage"])
	case <-time.After(waitFor):
		t.Fatal("no turn_failed event")
	}
	h.waitState(t, StateIdle)
	assert.True(t, h.m.Snapshot().Capturing)
	assert.Empty(t, h.tts.spoken())
	assert.Empty(t, h.player.played())
}

func TestMachine_ChatTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ChatTimeout = 20 * time.Millisecond })
	h.chat.gate = make(chan struct{})
	h.m.Start()

	require.True(t, h.m.HandleTranscript("hello"))
	h.waitState(t, StateIdle)
	assert.True(t, h.m.Snapshot().Capturing)
	assert.Empty(t, h.player.played())

	// the machine accepts the next transcript
	close(h.chat.gate)
	require.True(t, h.m.HandleTranscript("again"))
	h.waitState(t, StateSpeaking)
}

func TestMachine_TTSFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.tts.err = errors.New("synth down")
	h.m.Start()

	require.True(t, h.m.HandleTranscript("hello"))
	require.Eventually(t, func() bool { return len(h.tts.spoken()) == 1 }, waitFor, tick)
	h.waitState(t, StateIdle)
	assert.True(t, h.m.Snapshot().Capturing)
	assert.Zero(t, h.capture.pauses.Load())
	assert.Empty(t, h.player.played())
}

func TestMachine_PlaybackErrorReturnsToIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.player.err = errors.New("socket gone")
	h.m.Start()

	require.True(t, h.m.HandleTranscript("hello"))
	require.Eventually(t, func() bool { return len(h.player.played()) == 1 }, waitFor, tick)
	h.waitState(t, StateIdle)
	assert.True(t, h.m.Snapshot().Capturing)
}

func TestMachine_PlaybackWatchdog(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PlaybackTimeout = 30 * time.Millisecond })
	h.m.Start()

	require.True(t, h.m.HandleTranscript("hello"))
	require.Eventually(t, func() bool { return len(h.player.played()) == 1 }, waitFor, tick)
	h.waitState(t, StateIdle)
	assert.True(t, h.m.Snapshot().Capturing)
	assert.True(t, h.capture.active.Load())
}

func TestMachine_StalePlaybackEndIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Start()

	assert.False(t, h.m.PlaybackEnded(""))

	require.True(t, h.m.HandleTranscript("hello"))
	h.waitState(t, StateSpeaking)
	assert.False(t, h.m.PlaybackEnded("some-old-turn"))
	assert.Equal(t, StateSpeaking, h.m.State())
}

func TestMachine_HistoryCarriedIntoNextTurn(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Start()

	require.True(t, h.m.HandleTranscript("hello bob"))
	h.waitState(t, StateSpeaking)
	require.True(t, h.m.PlaybackEnded(""))

	require.True(t, h.m.HandleTranscript("how are you"))
	h.waitState(t, StateSpeaking)

	calls := h.chat.calls()
	require.Len(t, calls, 2)
	assert.Empty(t, calls[0].History)
	assert.Equal(t, []chat.Turn{{User: "hello bob", Assistant: "howdy"}}, calls[1].History)
	assert.Equal(t, "how are you", calls[1].Prompt)
}

func TestMachine_AsleepIgnoresUntilWakePhrase(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.StartAsleep = true })
	h.m.Start()

	assert.Equal(t, StateAsleep, h.m.State())
	assert.True(t, h.m.Snapshot().Capturing)
	require.Eventually(t, func() bool { return h.animator.played("sleep") }, waitFor, tick)

	assert.False(t, h.m.HandleTranscript("hello bob"))
	assert.False(t, h.m.HandleTranscript("wakeful thoughts"))
	assert.Equal(t, StateAsleep, h.m.State())

	require.True(t, h.m.HandleTranscript("Hey, WAKE UP!"))
	h.waitState(t, StateSpeaking)
	assert.Equal(t, []string{DefaultSettings().WakeLine}, h.tts.spoken())
	assert.Empty(t, h.chat.calls())

	require.True(t, h.m.PlaybackEnded(""))
	assert.Equal(t, StateIdle, h.m.State())
}

func TestMachine_SleepPhrase(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Start()

	require.True(t, h.m.HandleTranscript("okay, go to sleep now"))
	assert.Equal(t, StateAsleep, h.m.State())
	assert.True(t, h.m.Snapshot().Capturing)
	require.Eventually(t, func() bool { return h.animator.last() == "sleep" }, waitFor, tick)
	assert.Empty(t, h.chat.calls())
}

func TestMachine_Speak(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Start()

	assert.ErrorIs(t, h.m.Speak("  "), tts.ErrEmptyText)
	require.NoError(t, h.m.Speak("testing one two"))
	h.waitState(t, StateSpeaking)
	assert.Equal(t, []string{"testing one two"}, h.tts.spoken())
	assert.Empty(t, h.chat.calls())
}

func TestMachine_PerformSkit(t *testing.T) {
	anims := catalog.DefaultAnimations()
	skits, err := catalog.DefaultSkits(anims)
	require.NoError(t, err)

	h := newHarness(t, func(c *Config) { c.Skits = skits })
	h.m.Start()

	skit, err := skits.Get("jokes", 0)
	require.NoError(t, err)

	require.NoError(t, h.m.PerformSkit("jokes", 0))
	h.waitState(t, StateSpeaking)
	assert.Equal(t, []string{skit.Script()}, h.tts.spoken())
	require.Eventually(t, func() bool { return h.animator.last() == skit.Animations[0] }, waitFor, tick)
	assert.False(t, h.animator.played("talk"))

	assert.ErrorIs(t, h.m.PerformSkit("jokes", 0), ErrBusy)
	assert.ErrorIs(t, h.m.PerformSkit("nope", 0), catalog.ErrSkitNotFound)
}

func TestMachine_PerformSkitWithoutCatalog(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Start()
	assert.ErrorIs(t, h.m.PerformSkit("jokes", 0), catalog.ErrSkitNotFound)
}

func TestMachine_UpdateSettings(t *testing.T) {
	h := newHarness(t, nil)
	h.m.UpdateSettings(Settings{Voice: "onyx", SleepPhrase: "good night"})
	h.m.Start()

	assert.False(t, h.m.HandleTranscript("um"))
	require.True(t, h.m.HandleTranscript("good night"))
	assert.Equal(t, StateAsleep, h.m.State())

	require.True(t, h.m.HandleTranscript("wake up"))
	h.waitState(t, StateSpeaking)
}

func TestMachine_CloseCancelsInFlight(t *testing.T) {
	h := newHarness(t, nil)
	h.chat.gate = make(chan struct{})
	h.m.Start()

	require.True(t, h.m.HandleTranscript("hello"))

	done := make(chan struct{})
	go func() {
		h.m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Close did not return")
	}
	assert.False(t, h.m.HandleTranscript("hello again"))
	assert.Empty(t, h.player.played())
}

func TestContainsPhrase(t *testing.T) {
	tests := []struct {
		text, phrase string
		want         bool
	}{
		{"wake up", "wake up", true},
		{"Hey... Wake Up!", "wake up", true},
		{"please wake   up now", "wake up", true},
		{"wakeup", "wake up", false},
		{"awake upstairs", "wake up", false},
		{"anything", "", false},
		{"", "wake up", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, containsPhrase(tt.text, tt.phrase), "%q in %q", tt.phrase, tt.text)
	}
}
