// Package session runs one page connection: its conversation machine,
// playback controller and render loop, bridged to the page over a websocket.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarstage/internal/animation"
	"github.com/normanking/avatarstage/internal/bus"
	"github.com/normanking/avatarstage/internal/catalog"
	"github.com/normanking/avatarstage/internal/chat"
	"github.com/normanking/avatarstage/internal/conversation"
	"github.com/normanking/avatarstage/internal/metrics"
	"github.com/normanking/avatarstage/internal/render"
	"github.com/normanking/avatarstage/internal/tts"
)

var ErrClosed = errors.New("session closed")

const (
	writeTimeout = 10 * time.Second
	// maxQueued is how many undelivered messages a page may fall behind
	// before it is disconnected.
	maxQueued = 256
)

// Conn is the subset of *websocket.Conn a session needs.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Config holds everything a session needs to build its components.
type Config struct {
	Catalog      *catalog.Animations
	Clips        animation.ClipSource
	Skits        *catalog.Skits
	Chat         chat.Client
	TTS          tts.Provider
	Settings     conversation.Settings
	StartAsleep  bool
	FillerWords  []string
	MaxExchanges int
	FadeDuration time.Duration
	FadeMode     animation.InterpolationMode
	WaveClip     string
	Render       render.Config
	BroadcastFPS int
	Logger       zerolog.Logger
}

// Session is one connected page.
type Session struct {
	id         string
	conn       Conn
	cfg        Config
	bus        *bus.EventBus
	controller *animation.Controller
	loop       *render.Loop
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	frames chan ServerMessage
	wg     sync.WaitGroup

	// ordered messages; enqueue never blocks so bus handlers can run
	// under the machine lock
	qmu   sync.Mutex
	queue []ServerMessage
	wake  chan struct{}

	frameInterval time.Duration

	mu        sync.Mutex
	machine   *conversation.Machine
	lastFrame time.Time
	closed    bool
}

// New creates a session for conn. Call Run to serve it.
func New(conn Conn, cfg Config) *Session {
	if cfg.BroadcastFPS <= 0 {
		cfg.BroadcastFPS = 20
	}
	id := uuid.NewString()
	logger := cfg.Logger.With().Str("session", id[:8]).Logger()

	s := &Session{
		id:            id,
		conn:          conn,
		cfg:           cfg,
		bus:           bus.NewEventBus(),
		logger:        logger,
		frames:        make(chan ServerMessage, 4),
		wake:          make(chan struct{}, 1),
		frameInterval: time.Second / time.Duration(cfg.BroadcastFPS),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.controller = animation.NewController(animation.ControllerConfig{
		Catalog:      cfg.Catalog,
		Clips:        cfg.Clips,
		FadeDuration: cfg.FadeDuration,
		FadeMode:     cfg.FadeMode,
		WaveClip:     cfg.WaveClip,
		TalkClip:     cfg.Settings.TalkClip,
		Bus:          s.bus,
		Logger:       logger,
	})
	s.loop = render.NewLoop(cfg.Render, s.controller, s, logger)
	s.subscribe()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Controller returns the session's playback controller.
func (s *Session) Controller() *animation.Controller { return s.controller }

// Machine returns the conversation machine, nil before activation.
func (s *Session) Machine() *conversation.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine
}

func (s *Session) subscribe() {
	s.bus.Subscribe(bus.EventTypeStateChanged, func(e bus.Event) {
		state, _ := e.Data["to"].(string)
		turn, _ := e.Data["turn"].(string)
		s.enqueue(ServerMessage{Type: MsgState, State: state, Turn: turn})
	})
	s.bus.Subscribe(bus.EventTypeClipChanged, func(e bus.Event) {
		clip, _ := e.Data["clip"].(string)
		from, _ := e.Data["from"].(string)
		mode, _ := e.Data["mode"].(string)
		s.enqueue(ServerMessage{Type: MsgClip, Clip: clip, From: from, Mode: mode})
	})
	s.bus.SubscribeMultiple([]bus.EventType{bus.EventTypeReply, bus.EventTypeTurnFailed}, func(e bus.Event) {
		turn, _ := e.Data["turn"].(string)
		if e.Type == bus.EventTypeReply {
			reply, _ := e.Data["reply"].(string)
			s.enqueue(ServerMessage{Type: MsgReply, Turn: turn, Text: reply})
			return
		}
		msg, _ := e.Data["error"].(string)
		s.enqueue(ServerMessage{Type: MsgError, Turn: turn, Error: msg})
	})
}

// Run serves the connection until it closes or ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	s.wg.Add(2)
	go s.writePump()
	go func() {
		defer s.wg.Done()
		s.loop.Run(s.ctx)
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		}
		s.conn.Close()
	}()

	s.logger.Info().Msg("Session connected")
	err := s.readPump()
	s.Close()
	s.logger.Info().Msg("Session closed")

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
		return nil
	}
	return err
}

// Close stops the machine and the session goroutines. Safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	m := s.machine
	s.mu.Unlock()

	if m != nil {
		m.Close()
	}
	s.bus.Clear()
	s.cancel()
	s.wg.Wait()
}

// UpdateSettings forwards reloaded settings to the machine.
func (s *Session) UpdateSettings(settings conversation.Settings) {
	s.mu.Lock()
	s.cfg.Settings = settings
	m := s.machine
	s.mu.Unlock()
	if m != nil {
		m.UpdateSettings(settings)
	}
}

func (s *Session) readPump() error {
	for {
		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return err
		}
		s.handle(msg)
	}
}

func (s *Session) handle(msg ClientMessage) {
	switch msg.Type {
	case MsgReady:
		s.ready()
	case MsgActivate:
		if err := s.activate(); err != nil {
			s.sendError(err)
		}
	case MsgTranscript:
		if m := s.Machine(); m != nil {
			m.HandleTranscript(msg.Text)
		}
	case MsgPlaybackEnded:
		if m := s.Machine(); m != nil {
			m.PlaybackEnded(msg.Turn)
		}
	case MsgPlay:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.controller.PlayOrIdle(s.ctx, msg.Name); err != nil && s.ctx.Err() == nil {
				s.sendError(err)
			}
		}()
	case MsgSkit:
		m := s.Machine()
		if m == nil {
			s.sendError(conversation.ErrInactive)
			return
		}
		if err := m.PerformSkit(msg.Category, msg.Index); err != nil {
			s.sendError(err)
		}
	case MsgSpeak:
		m := s.Machine()
		if m == nil {
			s.sendError(conversation.ErrInactive)
			return
		}
		if err := m.Speak(msg.Text); err != nil {
			s.sendError(err)
		}
	default:
		s.logger.Debug().Str("type", msg.Type).Msg("Unknown message type")
	}
}

// ready binds a fresh mixer and starts the default clip.
func (s *Session) ready() {
	if s.controller.Attached() {
		return
	}
	s.controller.Attach(animation.NewMixer())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.controller.Play(s.ctx, s.controller.DefaultClip()); err != nil && s.ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Default clip failed to load")
			s.sendError(err)
		}
	}()
}

func (s *Session) activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.machine != nil {
		return nil
	}

	m, err := conversation.New(conversation.Config{
		Settings:    s.cfg.Settings,
		Chat:        s.cfg.Chat,
		TTS:         s.cfg.TTS,
		Capture:     s,
		Player:      s,
		Animator:    s.controller,
		Skits:       s.cfg.Skits,
		Filter:      conversation.NewFilter(s.cfg.FillerWords),
		History:     conversation.NewHistory(conversation.HistoryConfig{MaxExchanges: s.cfg.MaxExchanges}),
		StartAsleep: s.cfg.StartAsleep,
		Bus:         s.bus,
		Logger:      s.logger,
	})
	if err != nil {
		return err
	}
	s.machine = m
	m.Start()
	return nil
}

// Pause tells the page to stop speech capture.
func (s *Session) Pause() { s.sendCapture(false) }

// Resume tells the page to restart speech capture.
func (s *Session) Resume() { s.sendCapture(true) }

func (s *Session) sendCapture(active bool) {
	s.enqueue(ServerMessage{Type: MsgCapture, Capturing: &active})
}

// Play sends synthesized audio to the page.
func (s *Session) Play(ctx context.Context, turn string, audio *tts.SynthesizeResponse) error {
	msg := ServerMessage{
		Type:   MsgAudio,
		Turn:   turn,
		Format: audio.Format,
		Audio:  base64.StdEncoding.EncodeToString(audio.Audio),
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.enqueue(msg) {
		return ErrClosed
	}
	return nil
}

// Render pushes the current frame to the page, at most BroadcastFPS times a second.
func (s *Session) Render(now time.Time) {
	s.mu.Lock()
	if now.Sub(s.lastFrame) < s.frameInterval {
		s.mu.Unlock()
		return
	}
	s.lastFrame = now
	s.mu.Unlock()

	frame, ok := s.controller.Frame()
	if !ok {
		return
	}
	fm := &FrameMessage{Time: frame.Time, Actions: frame.Actions}
	if t := s.controller.Transition(); t != nil {
		fm.Transition = &TransitionMessage{From: t.From, To: t.To, Progress: t.Progress}
	}

	select {
	case s.frames <- ServerMessage{Type: MsgFrame, Frame: fm}:
	default:
		// slow page, skip this frame
	}
}

func (s *Session) sendError(err error) {
	s.enqueue(ServerMessage{Type: MsgError, Error: err.Error()})
}

// enqueue queues a message that must reach the page in order. It never
// blocks. A page that falls maxQueued messages behind is disconnected.
func (s *Session) enqueue(msg ServerMessage) bool {
	if s.ctx.Err() != nil {
		return false
	}
	s.qmu.Lock()
	if len(s.queue) >= maxQueued {
		s.qmu.Unlock()
		s.logger.Warn().Int("queued", maxQueued).Str("type", msg.Type).Msg("Page stopped reading, closing session")
		s.cancel()
		return false
	}
	s.queue = append(s.queue, msg)
	s.qmu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Session) writePump() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
			if !s.flush() {
				return
			}
		case msg := <-s.frames:
			if !s.write(msg) {
				return
			}
		}
	}
}

// flush writes every queued message in order.
func (s *Session) flush() bool {
	s.qmu.Lock()
	batch := s.queue
	s.queue = nil
	s.qmu.Unlock()

	for _, msg := range batch {
		if !s.write(msg) {
			return false
		}
	}
	return true
}

func (s *Session) write(msg ServerMessage) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Debug().Err(err).Str("type", msg.Type).Msg("Write failed, closing session")
		s.cancel()
		return false
	}
	return true
}
