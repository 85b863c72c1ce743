// Command chronicler records tabletop RPG sessions from a Discord voice
// channel and keeps an evolving narrative summary of the campaign.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/MrWong99/chronicler/internal/app"
	"github.com/MrWong99/chronicler/internal/bus"
	"github.com/MrWong99/chronicler/internal/config"
	"github.com/MrWong99/chronicler/internal/discord"
	"github.com/MrWong99/chronicler/internal/observe"
	"github.com/MrWong99/chronicler/internal/publish"
	"github.com/MrWong99/chronicler/internal/store"
	"github.com/MrWong99/chronicler/internal/web"
	"github.com/MrWong99/chronicler/pkg/audio"
	discordaudio "github.com/MrWong99/chronicler/pkg/audio/discord"
	"github.com/MrWong99/chronicler/pkg/provider/llm/anthropic"
	sttopenai "github.com/MrWong99/chronicler/pkg/provider/stt/openai"
	"github.com/MrWong99/chronicler/pkg/provider/vad"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	wavPath := flag.String("wav", "", "transcribe a WAV recording instead of joining voice")
	wavSpeaker := flag.String("wav-speaker", "", "discord user id attributed to the WAV recording")
	flag.Parse()

	// A missing .env file is fine; the environment may be set another way.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "chronicler: config file %q not found — copy configs/example.toml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "chronicler: %v\n", err)
		}
		return 1
	}
	if err := config.ApplyEnvOverrides(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "chronicler: %v\n", err)
		return 1
	}
	secrets := config.SecretsFromEnv()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	if cfg.Campaign == nil {
		slog.Error("config has no [campaign] section")
		return 1
	}
	if secrets.OpenAIAPIKey == "" || secrets.AnthropicAPIKey == "" {
		slog.Error("OPENAI_API_KEY and ANTHROPIC_API_KEY must be set")
		return 1
	}

	slog.Info("chronicler starting",
		"config", *configPath,
		"campaign", cfg.Campaign.Name,
		"web_addr", fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "chronicler"})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Persistence ───────────────────────────────────────────────────────────
	var (
		st       store.Store
		pool     *pgxpool.Pool
		checkers []web.Checker
	)
	if cfg.Database.DSN != "" {
		pool, err = pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			slog.Error("failed to create database pool", "err", err)
			return 1
		}
		defer pool.Close()

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			return 1
		}
		st = pg
		checkers = append(checkers, web.Checker{Name: "database", Check: pool.Ping})
		slog.Info("database connected")
	} else {
		st = store.NewMemoryStore()
		slog.Warn("no database configured, summaries will not survive a restart")
	}

	// ── Discord (optional) ────────────────────────────────────────────────────
	var (
		platform  audio.Platform
		messenger publish.Messenger
		bot       *discord.Bot
	)
	if secrets.DiscordBotToken != "" && cfg.Discord.GuildID != "" {
		session, err := discordgo.New("Bot " + secrets.DiscordBotToken)
		if err != nil {
			slog.Error("failed to create discord session", "err", err)
			return 1
		}
		session.Identify.Intents |= discordgo.IntentsGuildVoiceStates
		if err := session.Open(); err != nil {
			slog.Error("failed to open discord gateway", "err", err)
			return 1
		}
		defer session.Close()

		if *wavPath == "" {
			platform = discordaudio.New(logger, session, cfg.Discord.GuildID)
			bot = discord.NewBot(logger, session, cfg.Discord.GuildID)
		}
		if cfg.Discord.SummaryChannelID != "" {
			messenger = session
		}
		slog.Info("discord connected", "guild_id", cfg.Discord.GuildID)
	} else if *wavPath == "" {
		slog.Error("DISCORD_BOT_TOKEN and discord.guild_id are required unless -wav is given")
		return 1
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	b := bus.New(logger)

	webServer := web.New(logger, b, st, fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port), metrics, checkers...)
	webServer.Attach()

	application, err := app.New(app.Deps{
		Log:      logger,
		Bus:      b,
		Config:   cfg,
		Store:    st,
		Platform: platform,
		VAD:      vad.EnergyEngine{},
		STT: sttopenai.New(secrets.OpenAIAPIKey,
			sttopenai.WithModel(cfg.Transcriber.Model),
			sttopenai.WithTimeout(cfg.Transcriber.APITimeout())),
		LLM: anthropic.New(secrets.AnthropicAPIKey,
			anthropic.WithModel(cfg.Summarizer.Model),
			anthropic.WithMaxTokens(cfg.Summarizer.MaxTokens),
			anthropic.WithTimeout(cfg.Summarizer.APITimeout())),
		Messenger: messenger,
		Metrics:   metrics,
		OnSession: webServer.SetSession,
	})
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if err := application.Bootstrap(ctx); err != nil {
		slog.Error("campaign bootstrap failed", "err", err)
		return 1
	}
	if err := webServer.Start(); err != nil {
		slog.Error("failed to start web server", "err", err)
		return 1
	}

	exit := 0
	if *wavPath != "" {
		sessionID, err := application.StartSession(ctx)
		if err != nil {
			slog.Error("failed to start session", "err", err)
			return 1
		}
		slog.Info("session running", "session_id", sessionID)
		if err := application.TranscribeFile(ctx, *wavPath, *wavSpeaker, *wavSpeaker); err != nil {
			slog.Error("wav transcription failed", "path", *wavPath, "err", err)
			exit = 1
		}
	} else {
		discord.NewScribeCommands(logger, bot, application, st, cfg.Campaign.ID)
		if err := bot.Start(); err != nil {
			slog.Error("failed to register discord commands", "err", err)
			return 1
		}
		defer bot.Close()

		slog.Info("ready — use /scribe start in Discord, Ctrl+C to quit")
		<-ctx.Done()
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	slog.Info("shutting down")
	if err := application.Close(shutdownCtx); err != nil {
		slog.Error("session shutdown error", "err", err)
		exit = 1
	}
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("web server shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
