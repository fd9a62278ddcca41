package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/avatarstage/internal/config"
)

func TestLoadCatalog_Defaults(t *testing.T) {
	anims, skits, err := loadCatalog(config.DefaultConfig().Avatar)
	require.NoError(t, err)
	assert.Equal(t, "idle", anims.Default())
	assert.NotEmpty(t, skits.Categories())
}

func TestLoadCatalog_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
categories:
  - name: moves
    skits:
      - name: spin
        animations: [spin]
        lines: ["Watch this!"]
`), 0o644))

	anims, skits, err := loadCatalog(config.AvatarConfig{
		Animations: []string{"rest", "spin"},
		IdleClip:   "rest",
		SkitsFile:  path,
	})
	require.NoError(t, err)
	assert.Equal(t, "rest", anims.Default())
	skit, err := skits.Get("moves", 0)
	require.NoError(t, err)
	assert.Equal(t, "Watch this!", skit.Script())

	// the default skits reference clips this catalog lacks
	_, _, err = loadCatalog(config.AvatarConfig{Animations: []string{"rest"}, IdleClip: "rest"})
	assert.Error(t, err)
}

func TestNewChatClient(t *testing.T) {
	logger := zerolog.Nop()

	c, err := newChatClient(context.Background(), config.ChatConfig{Provider: "openai", APIKey: "k"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())

	c, err = newChatClient(context.Background(), config.ChatConfig{Provider: "http", Endpoint: "http://localhost:1/chat"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "http", c.Name())

	_, err = newChatClient(context.Background(), config.ChatConfig{Provider: "http"}, logger)
	assert.Error(t, err)

	_, err = newChatClient(context.Background(), config.ChatConfig{Provider: "carrier-pigeon"}, logger)
	assert.Error(t, err)
}

func TestNewTTSProvider(t *testing.T) {
	logger := zerolog.Nop()

	p, release := newTTSProvider(config.TTSConfig{Provider: "openai", APIKey: "k"}, config.CacheConfig{}, logger)
	defer release()
	assert.Equal(t, "openai", p.Name())

	p, release = newTTSProvider(config.TTSConfig{Provider: "http", Endpoint: "http://localhost:1/tts"}, config.CacheConfig{}, logger)
	defer release()
	assert.Equal(t, "http", p.Name())
}

func TestSettingsFrom(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Conversation.WakePhrase = "hey bob"

	s := settingsFrom(cfg)
	assert.Equal(t, "hey bob", s.WakePhrase)
	assert.Equal(t, "talk", s.TalkClip)
	assert.Equal(t, cfg.Conversation.PlaybackTimeout, s.PlaybackTimeout)
	assert.Equal(t, cfg.TTS.VoiceID, s.Voice)
}
