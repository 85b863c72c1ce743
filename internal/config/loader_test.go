package config

import (
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
[listener]
chunk_duration_s = 8.0
vad_aggressiveness = 1

[transcriber]
model = "gpt-4o-transcribe"
language = "de"

[summarizer]
max_pending_transcriptions = 5

[web]
port = 9000

[database]
dsn = "postgres://localhost/chronicler"

[discord]
summary_channel_id = "123"
voice_channel_id = "456"
guild_id = "789"

[campaign]
id = "ashes-of-velen"
name = "Ashes of Velen"
game_system = "Fading Suns"
language = "en"
description = "A grim campaign."

[campaign.dm]
discord_id = "1000"

[[campaign.players]]
discord_id = "1001"
discord_name = "alice"
character_name = "Kira"
character_description = "a rogue"

[[campaign.players]]
discord_id = "1002"
discord_name = "bob"
character_name = "Dorian"

[[campaign.npcs]]
name = "Master Theobald"
description = "a sage"

[campaign.custom_instructions]
text = "Never reveal secret doors."
`

func TestLoadFromReaderParsesAndFillsDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(sampleConfig))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}

	if got := cfg.Listener.ChunkDuration(); got != 8*time.Second {
		t.Errorf("ChunkDuration() = %v, want 8s", got)
	}
	// Unset keys fall back to defaults.
	if got := cfg.Listener.SilenceThreshold(); got != 1500*time.Millisecond {
		t.Errorf("SilenceThreshold() = %v, want 1.5s", got)
	}
	if cfg.Listener.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", cfg.Listener.SampleRate)
	}
	if cfg.Transcriber.Model != "gpt-4o-transcribe" {
		t.Errorf("Transcriber.Model = %q", cfg.Transcriber.Model)
	}
	if cfg.Transcriber.MaxConcurrentRequests != 4 {
		t.Errorf("MaxConcurrentRequests = %d, want default 4", cfg.Transcriber.MaxConcurrentRequests)
	}
	if cfg.Summarizer.MaxPendingTranscriptions != 5 {
		t.Errorf("MaxPendingTranscriptions = %d, want 5", cfg.Summarizer.MaxPendingTranscriptions)
	}
	if cfg.Summarizer.Model != "claude-sonnet-4-5" {
		t.Errorf("Summarizer.Model = %q, want default", cfg.Summarizer.Model)
	}
	if cfg.Web.Host != "127.0.0.1" || cfg.Web.Port != 9000 {
		t.Errorf("Web = %+v", cfg.Web)
	}
	if cfg.Campaign == nil {
		t.Fatal("Campaign = nil")
	}
	if got := cfg.Campaign.SpeakerMap()["1001"]; got != "Kira" {
		t.Errorf("SpeakerMap()[1001] = %q, want Kira", got)
	}
	names := cfg.Campaign.CharacterNames()
	if len(names) != 2 || names[0] != "Kira" || names[1] != "Dorian" {
		t.Errorf("CharacterNames() = %v", names)
	}
}

func TestLoadFromReaderRejectsUnknownKeys(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("[listener]\nchunk_seconds = 10.0\n"))
	if err == nil {
		t.Error("LoadFromReader() error = nil, want error for unknown key")
	}
}

func TestValidateReportsAllFailures(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
[listener]
min_chunk_duration_s = 20.0
chunk_duration_s = 10.0
vad_aggressiveness = 7

[campaign]
id = ""
name = ""

[[campaign.players]]
discord_id = ""
character_name = ""
`))
	if err == nil {
		t.Fatalf("LoadFromReader() error = nil, cfg = %+v", cfg)
	}
	for _, want := range []string{
		"min_chunk_duration_s",
		"vad_aggressiveness",
		"campaign.id is required",
		"campaign.players[0].discord_id is required",
		"campaign.players[0].character_name is required",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %q:\n%v", want, err)
		}
	}
}

func TestValidateDetectsDuplicatePlayers(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
[campaign]
id = "c"
name = "C"

[[campaign.players]]
discord_id = "1"
character_name = "A"

[[campaign.players]]
discord_id = "1"
character_name = "B"
`))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("LoadFromReader() error = %v, want duplicate player error", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CHRONICLER_DB_DSN", "postgres://env/db")
	t.Setenv("CHRONICLER_WEB_ADDR", "0.0.0.0:8080")

	cfg := Default()
	if err := ApplyEnvOverrides(cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides() error = %v", err)
	}
	if cfg.Database.DSN != "postgres://env/db" {
		t.Errorf("Database.DSN = %q", cfg.Database.DSN)
	}
	if cfg.Web.Host != "0.0.0.0" || cfg.Web.Port != 8080 {
		t.Errorf("Web = %+v, want 0.0.0.0:8080", cfg.Web)
	}
}

func TestApplyEnvOverridesRejectsBadAddr(t *testing.T) {
	t.Setenv("CHRONICLER_WEB_ADDR", "no-port-here")
	if err := ApplyEnvOverrides(Default()); err == nil {
		t.Error("ApplyEnvOverrides() error = nil, want error")
	}
}

func TestSecretsFromEnv(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "tok")
	t.Setenv("OPENAI_API_KEY", "oai")
	t.Setenv("ANTHROPIC_API_KEY", "ant")

	s := SecretsFromEnv()
	if s.DiscordBotToken != "tok" || s.OpenAIAPIKey != "oai" || s.AnthropicAPIKey != "ant" {
		t.Errorf("SecretsFromEnv() = %+v", s)
	}
}
