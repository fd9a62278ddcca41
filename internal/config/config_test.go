package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "idle", cfg.Avatar.IdleClip)
	assert.Equal(t, 0.4, cfg.Avatar.FadeSeconds)
	assert.Equal(t, "ease-in-out", cfg.Avatar.FadeMode)
	assert.Equal(t, 12*time.Second, cfg.Conversation.ChatTimeout)
	assert.Equal(t, 12*time.Second, cfg.Conversation.TTSTimeout)
	assert.Equal(t, ".glb", cfg.Assets.ClipExt)
	assert.Equal(t, 100*time.Millisecond, cfg.Render.MaxDelta)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9999
conversation:
  wake_phrase: "hey bob"
  chat_timeout: 5s
avatar:
  animations: [idle, wave, spin]
  fade_mode: linear
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "hey bob", cfg.Conversation.WakePhrase)
	assert.Equal(t, 5*time.Second, cfg.Conversation.ChatTimeout)
	assert.Equal(t, []string{"idle", "wave", "spin"}, cfg.Avatar.Animations)
	assert.Equal(t, "linear", cfg.Avatar.FadeMode)

	// untouched keys keep their defaults
	assert.Equal(t, "go to sleep", cfg.Conversation.SleepPhrase)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, path, FileUsed())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
