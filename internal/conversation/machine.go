package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarstage/internal/bus"
	"github.com/normanking/avatarstage/internal/catalog"
	"github.com/normanking/avatarstage/internal/chat"
	"github.com/normanking/avatarstage/internal/metrics"
	"github.com/normanking/avatarstage/internal/tts"
)

var (
	ErrBusy     = errors.New("conversation busy")
	ErrInactive = errors.New("conversation not active")
)

// Capture is the speech-to-text source. Implementations must not call back
// into the Machine synchronously.
type Capture interface {
	Pause()
	Resume()
}

// Player plays synthesized audio for a turn. Completion is reported through
// Machine.PlaybackEnded with the same turn id.
type Player interface {
	Play(ctx context.Context, turn string, audio *tts.SynthesizeResponse) error
}

// Animator switches the avatar's clip, falling back to idle on load failure.
type Animator interface {
	PlayOrIdle(ctx context.Context, name string) error
}

// Settings are the tunables that may change while the machine runs.
type Settings struct {
	Voice           string
	IdleClip        string
	TalkClip        string
	SleepClip       string
	WakePhrase      string
	SleepPhrase     string
	WakeLine        string
	ChatTimeout     time.Duration
	TTSTimeout      time.Duration
	PlaybackTimeout time.Duration
}

// DefaultSettings returns sensible defaults
func DefaultSettings() Settings {
	return Settings{
		Voice:           "nova",
		IdleClip:        "idle",
		TalkClip:        "talk",
		SleepClip:       "sleep",
		WakePhrase:      "wake up",
		SleepPhrase:     "go to sleep",
		WakeLine:        "I'm awake! What did I miss?",
		ChatTimeout:     12 * time.Second,
		TTSTimeout:      12 * time.Second,
		PlaybackTimeout: 90 * time.Second,
	}
}

// merge overlays the non-zero fields of o onto s.
func (s Settings) merge(o Settings) Settings {
	if o.Voice != "" {
		s.Voice = o.Voice
	}
	if o.IdleClip != "" {
		s.IdleClip = o.IdleClip
	}
	if o.TalkClip != "" {
		s.TalkClip = o.TalkClip
	}
	if o.SleepClip != "" {
		s.SleepClip = o.SleepClip
	}
	if o.WakePhrase != "" {
		s.WakePhrase = o.WakePhrase
	}
	if o.SleepPhrase != "" {
		s.SleepPhrase = o.SleepPhrase
	}
	if o.WakeLine != "" {
		s.WakeLine = o.WakeLine
	}
	if o.ChatTimeout > 0 {
		s.ChatTimeout = o.ChatTimeout
	}
	if o.TTSTimeout > 0 {
		s.TTSTimeout = o.TTSTimeout
	}
	if o.PlaybackTimeout > 0 {
		s.PlaybackTimeout = o.PlaybackTimeout
	}
	return s
}

// Config wires a Machine to its collaborators.
type Config struct {
	Settings

	Chat     chat.Client
	TTS      tts.Provider
	Capture  Capture
	Player   Player
	Animator Animator
	Skits    *catalog.Skits
	Filter   *Filter
	History  *History

	StartAsleep bool
	Bus         *bus.EventBus
	Logger      zerolog.Logger
}

// Machine is the conversation state machine of one page session. State only
// changes under its mutex; network calls run on their own goroutines and
// apply their results only while their turn is still current. Bus handlers
// for state and capture events run under the mutex and must not call back
// into the Machine.
type Machine struct {
	chat     chat.Client
	tts      tts.Provider
	capture  Capture
	player   Player
	animator Animator
	skits    *catalog.Skits
	filter   *Filter
	history  *History
	bus      *bus.EventBus
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	anims  chan string

	mu        sync.Mutex
	settings  Settings
	state     State
	capturing bool
	started   bool
	closed    bool
	turn      string
	turnClip  string
	watchdog  *time.Timer
}

// New creates a machine. Call Start to activate capture.
func New(cfg Config) (*Machine, error) {
	if cfg.Chat == nil {
		return nil, errors.New("conversation: chat client is required")
	}
	if cfg.TTS == nil {
		return nil, errors.New("conversation: TTS provider is required")
	}
	if cfg.Capture == nil {
		cfg.Capture = nopCapture{}
	}
	if cfg.Player == nil {
		cfg.Player = nopPlayer{}
	}
	if cfg.Animator == nil {
		cfg.Animator = nopAnimator{}
	}
	if cfg.Filter == nil {
		cfg.Filter = NewFilter(nil)
	}
	if cfg.History == nil {
		cfg.History = NewHistory(HistoryConfig{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		chat:     cfg.Chat,
		tts:      cfg.TTS,
		capture:  cfg.Capture,
		player:   cfg.Player,
		animator: cfg.Animator,
		skits:    cfg.Skits,
		filter:   cfg.Filter,
		history:  cfg.History,
		bus:      cfg.Bus,
		logger:   cfg.Logger.With().Str("component", "conversation").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		anims:    make(chan string, 32),
		settings: DefaultSettings().merge(cfg.Settings),
		state:    StateIdle,
	}
	if cfg.StartAsleep {
		m.state = StateAsleep
	}
	return m, nil
}

// Start activates capture and plays the clip for the initial state.
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true

	m.wg.Add(1)
	go m.runAnimations()

	m.resumeCaptureLocked()
	m.bus.PublishSync(bus.Event{
		Type: bus.EventTypeStateChanged,
		Data: map[string]any{"from": "", "to": m.state.String()},
	})
	if m.state == StateAsleep {
		m.animateLocked(m.settings.SleepClip)
	} else {
		m.animateLocked(m.settings.IdleClip)
	}
	m.logger.Info().Str("state", m.state.String()).Msg("Conversation started")
}

// Close cancels in-flight requests and waits for them to finish.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopWatchdogLocked()
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// Snapshot returns the current state, capture flag and turn id.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, StateName: m.state.String(), Capturing: m.capturing, Turn: m.turn}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// UpdateSettings applies the non-zero fields of s. In-flight turns keep the
// settings they started with.
func (m *Machine) UpdateSettings(s Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = m.settings.merge(s)
}

// HandleTranscript feeds one capture transcript into the machine and reports
// whether it was acted on. Transcripts arriving while asleep (without the
// wake phrase), processing or speaking are dropped.
func (m *Machine) HandleTranscript(text string) bool {
	text = strings.TrimSpace(text)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.started {
		m.dropLocked(text, "inactive")
		return false
	}

	switch m.state {
	case StateAsleep:
		if !containsPhrase(text, m.settings.WakePhrase) {
			m.dropLocked(text, "asleep")
			return false
		}
		m.logger.Info().Msg("Wake phrase heard")
		m.setStateLocked(StateIdle)
		m.animateLocked(m.settings.IdleClip)
		if m.settings.WakeLine != "" {
			m.speakLocked(m.settings.WakeLine, "")
		}
		return true
	case StateProcessing:
		m.dropLocked(text, "processing")
		return false
	case StateSpeaking:
		m.dropLocked(text, "speaking")
		return false
	}

	if m.filter.IsFillerOnly(text) {
		m.dropLocked(text, "empty")
		return false
	}

	if containsPhrase(text, m.settings.SleepPhrase) {
		m.logger.Info().Msg("Sleep phrase heard")
		m.setStateLocked(StateAsleep)
		m.animateLocked(m.settings.SleepClip)
		return true
	}

	m.beginTurnLocked(text)
	return true
}

// Speak voices text directly, skipping the chat request.
func (m *Machine) Speak(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.ErrEmptyText
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readyLocked(); err != nil {
		return err
	}
	m.speakLocked(text, "")
	return nil
}

// PerformSkit plays the skit's first animation and speaks its lines.
func (m *Machine) PerformSkit(category string, index int) error {
	if m.skits == nil {
		return catalog.ErrSkitNotFound
	}
	skit, err := m.skits.Get(category, index)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readyLocked(); err != nil {
		return err
	}

	clip := skit.Animations[0]
	m.animateLocked(clip)
	m.speakLocked(skit.Script(), clip)
	m.logger.Debug().Str("category", category).Str("skit", skit.Name).Msg("Performing skit")
	return nil
}

// PlaybackEnded reports that the audio for turn finished. Reports for a
// turn that is no longer speaking are ignored. An empty turn matches the
// current one.
func (m *Machine) PlaybackEnded(turn string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.state != StateSpeaking || (turn != "" && turn != m.turn) {
		m.logger.Debug().Str("turn", turn).Msg("Stale playback end ignored")
		return false
	}

	m.bus.Publish(bus.Event{
		Type: bus.EventTypePlaybackEnded,
		Data: map[string]any{"turn": m.turn},
	})
	m.endTurnLocked()
	return true
}

func (m *Machine) readyLocked() error {
	if m.closed || !m.started {
		return ErrInactive
	}
	if m.state != StateIdle {
		return fmt.Errorf("%w: %s", ErrBusy, m.state)
	}
	return nil
}

func (m *Machine) beginTurnLocked(prompt string) {
	turn := m.startTurnLocked("")
	history := m.history.Turns()
	s := m.settings

	m.wg.Add(1)
	go m.runTurn(turn, prompt, history, s)
}

func (m *Machine) speakLocked(text, clip string) {
	turn := m.startTurnLocked(clip)
	s := m.settings

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.recoverTurn(turn)
		m.synthesize(turn, text, s)
	}()
}

func (m *Machine) startTurnLocked(clip string) string {
	turn := uuid.NewString()
	m.turn = turn
	m.turnClip = clip
	if m.turnClip == "" {
		m.turnClip = m.settings.TalkClip
	}
	m.setStateLocked(StateProcessing)
	m.bus.Publish(bus.Event{
		Type: bus.EventTypeTurnStarted,
		Data: map[string]any{"turn": turn},
	})
	return turn
}

func (m *Machine) runTurn(turn, prompt string, history []chat.Turn, s Settings) {
	defer m.wg.Done()
	defer m.recoverTurn(turn)

	ctx, cancel := context.WithTimeout(m.ctx, s.ChatTimeout)
	start := time.Now()
	reply, err := m.chat.Complete(ctx, &chat.Request{Prompt: prompt, History: history})
	cancel()
	observe("chat", start, err)

	if err != nil {
		m.failTurn(turn, "chat", err)
		return
	}
	if !m.isCurrent(turn) {
		return
	}

	m.history.Add(prompt, reply)
	m.bus.PublishSync(bus.Event{
		Type: bus.EventTypeReply,
		Data: map[string]any{"turn": turn, "prompt": prompt, "reply": reply},
	})

	m.synthesize(turn, reply, s)
}

func (m *Machine) synthesize(turn, text string, s Settings) {
	ctx, cancel := context.WithTimeout(m.ctx, s.TTSTimeout)
	start := time.Now()
	audio, err := m.tts.Synthesize(ctx, &tts.SynthesizeRequest{Text: text, VoiceID: s.Voice})
	cancel()
	observe("tts", start, err)

	if err != nil {
		m.failTurn(turn, "tts", err)
		return
	}

	m.mu.Lock()
	if m.closed || m.turn != turn || m.state != StateProcessing {
		m.mu.Unlock()
		m.logger.Debug().Str("turn", turn).Msg("Audio for superseded turn discarded")
		return
	}
	// capture stops before the state says speaking
	m.pauseCaptureLocked()
	m.setStateLocked(StateSpeaking)
	m.animateLocked(m.turnClip)
	m.watchdog = time.AfterFunc(s.PlaybackTimeout, func() { m.playbackTimedOut(turn) })
	m.mu.Unlock()

	m.bus.Publish(bus.Event{
		Type: bus.EventTypePlaybackRequested,
		Data: map[string]any{"turn": turn, "bytes": len(audio.Audio), "format": audio.Format},
	})
	if err := m.player.Play(m.ctx, turn, audio); err != nil {
		m.failTurn(turn, "playback", err)
	}
}

func (m *Machine) playbackTimedOut(turn string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.turn != turn || m.state != StateSpeaking {
		return
	}
	m.logger.Warn().Str("turn", turn).Msg("Playback never reported finished, resetting")
	metrics.UpstreamRequests.WithLabelValues("playback", "timeout").Inc()
	m.bus.Publish(bus.Event{
		Type: bus.EventTypeTurnFailed,
		Data: map[string]any{"turn": turn, "stage": "playback", "error": "playback timeout"},
	})
	m.endTurnLocked()
}

// failTurn returns the machine to idle with capture resumed, unless the
// turn has already been superseded.
func (m *Machine) failTurn(turn, stage string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.turn != turn {
		return
	}

	m.logger.Warn().
		Err(err).
		Str("turn", turn).
		Str("stage", stage).
		Msg("Turn failed, returning to idle")
	m.bus.Publish(bus.Event{
		Type: bus.EventTypeTurnFailed,
		Data: map[string]any{"turn": turn, "stage": stage, "error": err.Error()},
	})
	m.endTurnLocked()
}

func (m *Machine) recoverTurn(turn string) {
	if r := recover(); r != nil {
		m.logger.Error().Interface("panic", r).Str("turn", turn).Msg("Recovered from panic in turn")
		m.failTurn(turn, "panic", fmt.Errorf("panic: %v", r))
	}
}

func (m *Machine) endTurnLocked() {
	m.stopWatchdogLocked()
	m.turn = ""
	m.turnClip = ""
	m.setStateLocked(StateIdle)
	m.resumeCaptureLocked()
	m.animateLocked(m.settings.IdleClip)
}

func (m *Machine) isCurrent(turn string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.turn == turn
}

func (m *Machine) setStateLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	metrics.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	m.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("State changed")
	m.bus.PublishSync(bus.Event{
		Type: bus.EventTypeStateChanged,
		Data: map[string]any{"from": from.String(), "to": to.String(), "turn": m.turn},
	})
}

func (m *Machine) pauseCaptureLocked() {
	if !m.capturing {
		return
	}
	m.capture.Pause()
	m.capturing = false
	m.bus.PublishSync(bus.Event{
		Type: bus.EventTypeCaptureChanged,
		Data: map[string]any{"active": false},
	})
}

func (m *Machine) resumeCaptureLocked() {
	if m.capturing {
		return
	}
	m.capture.Resume()
	m.capturing = true
	m.bus.PublishSync(bus.Event{
		Type: bus.EventTypeCaptureChanged,
		Data: map[string]any{"active": true},
	})
}

func (m *Machine) stopWatchdogLocked() {
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
}

func (m *Machine) dropLocked(text, reason string) {
	metrics.TranscriptsDropped.WithLabelValues(reason).Inc()
	m.logger.Debug().Str("reason", reason).Str("text", text).Msg("Transcript dropped")
	m.bus.Publish(bus.Event{
		Type: bus.EventTypeTranscriptDropped,
		Data: map[string]any{"reason": reason, "text": text},
	})
}

func (m *Machine) animateLocked(name string) {
	if name == "" || !m.started {
		return
	}
	select {
	case m.anims <- name:
	default:
		m.logger.Warn().Str("clip", name).Msg("Animation queue full, dropping request")
	}
}

// runAnimations applies clip changes in the order the machine requested them.
func (m *Machine) runAnimations() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case name := <-m.anims:
			if err := m.animator.PlayOrIdle(m.ctx, name); err != nil && m.ctx.Err() == nil {
				m.logger.Warn().Err(err).Str("clip", name).Msg("Animation failed")
			}
		}
	}
}

func observe(service string, start time.Time, err error) {
	result := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result = "timeout"
	case err != nil:
		result = "error"
	}
	metrics.UpstreamRequests.WithLabelValues(service, result).Inc()
	metrics.UpstreamLatency.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

// containsPhrase reports whether phrase occurs in text as whole words,
// ignoring case and punctuation.
func containsPhrase(text, phrase string) bool {
	p := normalize(phrase)
	if p == "" {
		return false
	}
	return strings.Contains(" "+normalize(text)+" ", " "+p+" ")
}

func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

type nopCapture struct{}

func (nopCapture) Pause()  {}
func (nopCapture) Resume() {}

type nopPlayer struct{}

func (nopPlayer) Play(context.Context, string, *tts.SynthesizeResponse) error { return nil }

type nopAnimator struct{}

func (nopAnimator) PlayOrIdle(context.Context, string) error { return nil }
