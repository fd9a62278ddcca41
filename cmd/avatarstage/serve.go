package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/avatarstage/internal/animation"
	"github.com/normanking/avatarstage/internal/catalog"
	"github.com/normanking/avatarstage/internal/chat"
	"github.com/normanking/avatarstage/internal/clips"
	"github.com/normanking/avatarstage/internal/config"
	"github.com/normanking/avatarstage/internal/conversation"
	"github.com/normanking/avatarstage/internal/logging"
	"github.com/normanking/avatarstage/internal/render"
	"github.com/normanking/avatarstage/internal/server"
	"github.com/normanking/avatarstage/internal/session"
	"github.com/normanking/avatarstage/internal/tts"
)

func serve(ctx context.Context, cfg *config.Config) error {
	logs, err := logging.New(&logging.Config{
		LogDir:     cfg.Log.Dir,
		Level:      logging.LogLevel(cfg.Log.Level),
		MaxHistory: cfg.Log.MaxHistory,
		Console:    os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	defer logs.Close()
	logger := logs.Component("main")

	anims, skits, err := loadCatalog(cfg.Avatar)
	if err != nil {
		return err
	}

	loader := clips.NewLoader(clips.LoaderConfig{
		Catalog:   anims,
		Fetcher:   newFetcher(cfg.Assets),
		Extension: cfg.Assets.ClipExt,
		Logger:    logs.Component("clips"),
	})
	preloadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	if err := loader.Preload(preloadCtx, anims.Default()); err != nil {
		logger.Warn().Err(err).Str("clip", anims.Default()).Msg("Idle clip preload failed")
	}
	cancel()

	chatClient, err := newChatClient(ctx, cfg.Chat, logs.Component("chat"))
	if err != nil {
		return err
	}

	provider, closeCache := newTTSProvider(cfg.TTS, cfg.Cache, logs.Component("tts"))
	defer closeCache()

	var mu sync.RWMutex
	current := cfg
	sessionConfig := func() session.Config {
		mu.RLock()
		c := current
		mu.RUnlock()
		return session.Config{
			Catalog:      anims,
			Clips:        loader,
			Skits:        skits,
			Chat:         chatClient,
			TTS:          provider,
			Settings:     settingsFrom(c),
			StartAsleep:  c.Conversation.StartAsleep,
			FillerWords:  c.Conversation.FillerWords,
			MaxExchanges: c.Conversation.MaxExchanges,
			FadeDuration: time.Duration(c.Avatar.FadeSeconds * float64(time.Second)),
			FadeMode:     animation.ParseInterpolationMode(c.Avatar.FadeMode),
			WaveClip:     c.Avatar.WaveClip,
			Render:       render.Config{FPS: c.Render.FPS, MaxDelta: c.Render.MaxDelta},
			BroadcastFPS: c.Render.BroadcastFPS,
			Logger:       logs.Component("session"),
		}
	}

	registry := session.NewRegistry()
	if file := config.FileUsed(); file != "" {
		config.Watch(func(next *config.Config) {
			mu.Lock()
			current = next
			mu.Unlock()
			registry.UpdateSettings(settingsFrom(next))
			logger.Info().Str("file", file).Msg("Config reloaded")
		})
	}

	srv := server.New(server.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		AllowedOrigin: cfg.Server.AllowedOrigin,
		AssetsDir:     cfg.Assets.Dir,
		Catalog:       anims,
		Skits:         skits,
		Chat:          chatClient,
		TTS:           provider,
		Voice:         cfg.TTS.VoiceID,
		Sessions:      registry,
		SessionConfig: sessionConfig,
		Logs:          logs,
		Logger:        logs.Zerolog(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info().
		Str("chat", chatClient.Name()).
		Str("tts", provider.Name()).
		Int("animations", anims.Len()).
		Msg("avatarstage started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadCatalog builds the animation catalog and skits, honoring config overrides.
func loadCatalog(cfg config.AvatarConfig) (*catalog.Animations, *catalog.Skits, error) {
	anims := catalog.DefaultAnimations()
	if len(cfg.Animations) > 0 {
		var err error
		anims, err = catalog.NewAnimations(cfg.Animations, cfg.IdleClip)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid animation catalog: %w", err)
		}
	}

	if cfg.SkitsFile == "" {
		skits, err := catalog.DefaultSkits(anims)
		if err != nil {
			return nil, nil, fmt.Errorf("default skits do not match the animation catalog: %w", err)
		}
		return anims, skits, nil
	}

	data, err := os.ReadFile(cfg.SkitsFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read skits: %w", err)
	}
	skits, err := catalog.ParseSkits(data, anims)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid skits file %s: %w", cfg.SkitsFile, err)
	}
	return anims, skits, nil
}

func newFetcher(cfg config.AssetsConfig) clips.Fetcher {
	if cfg.BaseURL != "" {
		return clips.NewHTTPFetcher(cfg.BaseURL, &http.Client{Timeout: 30 * time.Second})
	}
	return clips.NewFSFetcher(os.DirFS(cfg.Dir))
}

func newChatClient(ctx context.Context, cfg config.ChatConfig, logger zerolog.Logger) (chat.Client, error) {
	switch cfg.Provider {
	case "http":
		if cfg.Endpoint == "" {
			return nil, errors.New("chat.endpoint is required for the http provider")
		}
		return chat.NewHTTPClient(logger, cfg.Endpoint, cfg.Timeout), nil
	case "gemini":
		c, err := chat.NewGeminiClient(ctx, logger, chat.GeminiConfig{
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		return c, nil
	case "openai", "":
		return chat.NewOpenAIClient(logger, chat.OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.Endpoint,
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
		}), nil
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.Provider)
	}
}

// newTTSProvider picks the synthesis provider and wraps it with the redis
// cache when one is configured. The returned func releases the cache.
func newTTSProvider(cfg config.TTSConfig, cacheCfg config.CacheConfig, logger zerolog.Logger) (tts.Provider, func()) {
	var provider tts.Provider
	switch cfg.Provider {
	case "http":
		provider = tts.NewHTTPProvider(logger, cfg.Endpoint, cfg.VoiceID, cfg.Timeout)
	case "openai":
		provider = tts.NewOpenAIProvider(logger, &tts.OpenAIConfig{
			APIKey:       cfg.APIKey,
			Endpoint:     cfg.Endpoint,
			DefaultVoice: cfg.VoiceID,
			Speed:        cfg.Speed,
			Timeout:      cfg.Timeout,
		})
	default:
		provider = tts.NewElevenLabsProvider(logger, &tts.ElevenLabsConfig{
			APIKey:       cfg.APIKey,
			Endpoint:     cfg.Endpoint,
			DefaultVoice: cfg.VoiceID,
			Timeout:      cfg.Timeout,
		})
	}

	if cacheCfg.RedisAddr == "" {
		return provider, func() {}
	}
	store, err := tts.NewRedisStore(tts.RedisConfig{
		Addr:     cacheCfg.RedisAddr,
		Password: cacheCfg.Password,
		DB:       cacheCfg.DB,
	})
	if err != nil {
		logger.Warn().Err(err).Str("addr", cacheCfg.RedisAddr).Msg("TTS cache unavailable, continuing without it")
		return provider, func() {}
	}
	return tts.NewCachedProvider(provider, store, cacheCfg.TTL, logger), func() { store.Close() }
}

func settingsFrom(cfg *config.Config) conversation.Settings {
	return conversation.Settings{
		Voice:           cfg.TTS.VoiceID,
		IdleClip:        cfg.Avatar.IdleClip,
		TalkClip:        cfg.Avatar.TalkClip,
		SleepClip:       cfg.Avatar.SleepClip,
		WakePhrase:      cfg.Conversation.WakePhrase,
		SleepPhrase:     cfg.Conversation.SleepPhrase,
		WakeLine:        cfg.Conversation.WakeLine,
		ChatTimeout:     cfg.Conversation.ChatTimeout,
		TTSTimeout:      cfg.Conversation.TTSTimeout,
		PlaybackTimeout: cfg.Conversation.PlaybackTimeout,
	}
}
