package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/normanking/avatarstage/internal/catalog"
	"github.com/normanking/avatarstage/internal/chat"
	"github.com/normanking/avatarstage/internal/logging"
	"github.com/normanking/avatarstage/internal/session"
	"github.com/normanking/avatarstage/internal/tts"
)

const (
	maxBodyBytes  = 64 * 1024
	healthTimeout = 3 * time.Second
)

type chatRequest struct {
	Prompt string `json:"prompt"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type catalogResponse struct {
	Default    string             `json:"default"`
	Animations []string           `json:"animations"`
	Skits      []catalog.Category `json:"skits,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// upstreamStatus picks the status the relay answers with for a failed call.
func upstreamStatus(err error) int {
	var chatErr *chat.UpstreamError
	var ttsErr *tts.UpstreamError
	switch {
	case errors.As(err, &chatErr) && chatErr.Status >= 400:
		return chatErr.Status
	case errors.As(err, &ttsErr) && ttsErr.Status >= 400:
		return ttsErr.Status
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat not configured")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := s.cfg.Chat.Complete(r.Context(), &chat.Request{Prompt: req.Prompt})
	if errors.Is(err, chat.ErrEmptyPrompt) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", s.cfg.Chat.Name()).Msg("Chat relay failed")
		writeError(w, upstreamStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.TTS == nil {
		writeError(w, http.StatusServiceUnavailable, "tts not configured")
		return
	}

	var req ttsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Voice == "" {
		req.Voice = s.cfg.Voice
	}

	sreq := &tts.SynthesizeRequest{Text: req.Text, VoiceID: req.Voice}
	if err := sreq.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.cfg.TTS.Synthesize(r.Context(), sreq)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", s.cfg.TTS.Name()).Msg("TTS relay failed")
		writeError(w, upstreamStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", resp.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Audio)))
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Audio)
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	if s.cfg.AssetsDir == "" || !fs.ValidPath(file) {
		http.NotFound(w, r)
		return
	}

	fsys := os.DirFS(s.cfg.AssetsDir)
	info, err := fs.Stat(fsys, file)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFileFS(w, r, fsys, file)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	anims := s.cfg.Catalog
	if anims == nil {
		anims = catalog.DefaultAnimations()
	}
	resp := catalogResponse{Default: anims.Default(), Animations: anims.Names()}
	if s.cfg.Skits != nil {
		resp.Skits = s.cfg.Skits.Categories()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries := []logging.LogEntry{}
	if s.cfg.Logs != nil {
		entries = s.cfg.Logs.GetHistory(limit)
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":   "ok",
		"sessions": s.cfg.Sessions.Len(),
	}
	if s.cfg.Chat != nil {
		status["chat"] = s.cfg.Chat.Name()
	}
	if s.cfg.TTS != nil {
		status["tts"] = s.cfg.TTS.Name()
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.cfg.TTS.Health(ctx); err != nil {
			status["status"] = "degraded"
			status["tts_error"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SessionConfig == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sess := session.New(conn, s.cfg.SessionConfig())
	s.cfg.Sessions.Add(sess)
	defer s.cfg.Sessions.Remove(sess)

	if err := sess.Run(s.ctx); err != nil {
		s.logger.Debug().Err(err).Str("session", sess.ID()).Msg("Session ended with error")
	}
}
