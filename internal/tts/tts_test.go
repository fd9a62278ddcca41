package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_Synthesize(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3-audio"))
	}))
	defer srv.Close()

	p := NewHTTPProvider(zerolog.Nop(), srv.URL, "nova", time.Second)
	resp, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "howdy"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"text": "howdy", "voice": "nova"}, got)
	assert.Equal(t, []byte("ID3-audio"), resp.Audio)
	assert.Equal(t, "mp3", resp.Format)
	assert.Equal(t, "audio/mpeg", resp.ContentType())
}

func TestHTTPProvider_JSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"voice unavailable"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(zerolog.Nop(), srv.URL, "nova", time.Second)
	_, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "hi"})

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusBadGateway, upstream.Status)
	assert.Equal(t, "voice unavailable", upstream.Message)
}

func TestProviders_RejectEmptyTextBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	providers := []Provider{
		NewHTTPProvider(zerolog.Nop(), srv.URL, "", time.Second),
		NewOpenAIProvider(zerolog.Nop(), &OpenAIConfig{APIKey: "k", Endpoint: srv.URL}),
		NewElevenLabsProvider(zerolog.Nop(), &ElevenLabsConfig{APIKey: "k", Endpoint: srv.URL}),
	}
	for _, p := range providers {
		_, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "  "})
		assert.ErrorIs(t, err, ErrEmptyText, p.Name())
	}
	assert.Zero(t, calls.Load())
}

func TestOpenAIProvider_Synthesize(t *testing.T) {
	var body openAITTSRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(zerolog.Nop(), &OpenAIConfig{APIKey: "secret", Endpoint: srv.URL, Speed: 1})
	resp, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "hello", VoiceID: "21m00Tcm4TlvDq8ikWAM"})
	require.NoError(t, err)

	assert.Equal(t, "hello", body.Input)
	assert.Equal(t, VoiceNova, body.Voice)
	assert.Equal(t, "tts-1", body.Model)
	assert.Equal(t, "openai", resp.Provider)
}

func TestOpenAIProvider_NestedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(zerolog.Nop(), &OpenAIConfig{APIKey: "secret", Endpoint: srv.URL})
	_, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "hello"})
	assert.EqualError(t, err, "openai TTS error 401: bad key")
}

func TestElevenLabsProvider_MapsVoice(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, "k", r.Header.Get("xi-api-key"))
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	p := NewElevenLabsProvider(zerolog.Nop(), &ElevenLabsConfig{APIKey: "k", Endpoint: srv.URL})
	_, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "hi", VoiceID: "shimmer"})
	require.NoError(t, err)
	assert.Equal(t, "/text-to-speech/EXAVITQu4vr4xnSDxMaL", path)
}

// mockProvider counts synthesis calls
type mockProvider struct {
	calls atomic.Int32
	err   error
}

func (m *mockProvider) Name() string                 { return "mock" }
func (m *mockProvider) Health(context.Context) error { return nil }
func (m *mockProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return &SynthesizeResponse{Audio: []byte("audio:" + req.Text), Format: "mp3", Provider: "mock"}, nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (s *memStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data[key] = value
	return nil
}

func TestCachedProvider(t *testing.T) {
	inner := &mockProvider{}
	store := &memStore{data: map[string][]byte{}}
	c := NewCachedProvider(inner, store, time.Hour, zerolog.Nop())

	req := &SynthesizeRequest{Text: "howdy", VoiceID: "nova"}
	first, err := c.Synthesize(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := c.Synthesize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Audio, second.Audio)
	assert.Equal(t, "mp3", second.Format)
	assert.EqualValues(t, 1, inner.calls.Load())

	_, err = c.Synthesize(context.Background(), &SynthesizeRequest{Text: "howdy", VoiceID: "onyx"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, inner.calls.Load())
}

func TestCachedProvider_StoreFailureFallsThrough(t *testing.T) {
	inner := &mockProvider{}
	c := NewCachedProvider(inner, &memStore{err: errors.New("down")}, time.Hour, zerolog.Nop())

	resp, err := c.Synthesize(context.Background(), &SynthesizeRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []byte("audio:hi"), resp.Audio)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{Addr: "127.0.0.1:1"})
	assert.ErrorContains(t, err, "redis ping failed")
}
