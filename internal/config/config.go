// Package config defines the TOML configuration schema for the chronicler
// and its loader. Credentials never live in the file; they are taken from the
// environment (see [Secrets]).
package config

import (
	"time"
)

// Config is the root of the TOML configuration file.
type Config struct {
	Listener    ListenerConfig    `toml:"listener"`
	Transcriber TranscriberConfig `toml:"transcriber"`
	Summarizer  SummarizerConfig  `toml:"summarizer"`
	Web         WebConfig         `toml:"web"`
	Database    DatabaseConfig    `toml:"database"`
	Discord     DiscordConfig     `toml:"discord"`
	Campaign    *CampaignConfig   `toml:"campaign"`
}

// ListenerConfig tunes the per-speaker audio segmentation policy. All
// durations are in seconds to keep the file format language-neutral.
type ListenerConfig struct {
	// ChunkDurationS is the hard cap on buffered audio before a chunk is
	// emitted mid-utterance.
	ChunkDurationS float64 `toml:"chunk_duration_s"`

	// SilenceThresholdS is the silence run that ends a phrase.
	SilenceThresholdS float64 `toml:"silence_threshold_s"`

	// ShortSilenceThresholdS is the shorter pause that suffices once at
	// least five seconds of audio have accumulated.
	ShortSilenceThresholdS float64 `toml:"short_silence_threshold_s"`

	// MinChunkDurationS is the minimum buffered audio for any emission.
	MinChunkDurationS float64 `toml:"min_chunk_duration_s"`

	SampleRate  int `toml:"sample_rate"`
	Channels    int `toml:"channels"`
	SampleWidth int `toml:"sample_width"`

	// VADAggressiveness is the voice activity detector setting, 0–3.
	VADAggressiveness int `toml:"vad_aggressiveness"`
}

func (c ListenerConfig) ChunkDuration() time.Duration    { return seconds(c.ChunkDurationS) }
func (c ListenerConfig) SilenceThreshold() time.Duration { return seconds(c.SilenceThresholdS) }
func (c ListenerConfig) ShortSilenceThreshold() time.Duration {
	return seconds(c.ShortSilenceThresholdS)
}
func (c ListenerConfig) MinChunkDuration() time.Duration { return seconds(c.MinChunkDurationS) }

// TranscriberConfig tunes the transcription worker.
type TranscriberConfig struct {
	Model    string `toml:"model"`
	Language string `toml:"language"`

	APITimeoutS           float64 `toml:"api_timeout_s"`
	MaxConcurrentRequests int     `toml:"max_concurrent_requests"`
	QueueMaxSize          int     `toml:"queue_max_size"`
	MaxRetries            int     `toml:"max_retries"`
	RetryBaseDelayS       float64 `toml:"retry_base_delay_s"`

	// PromptHint is free-form context prepended to the generated prompt.
	PromptHint string `toml:"prompt_hint"`

	// Accepted for config compatibility with local-engine deployments;
	// forwarded but unused by the hosted provider.
	LocalModelSize string `toml:"local_model_size"`
	Device         string `toml:"device"`
	ComputeType    string `toml:"compute_type"`
}

func (c TranscriberConfig) APITimeout() time.Duration     { return seconds(c.APITimeoutS) }
func (c TranscriberConfig) RetryBaseDelay() time.Duration { return seconds(c.RetryBaseDelayS) }

// SummarizerConfig tunes the incremental summarizer.
type SummarizerConfig struct {
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`

	UpdateIntervalS          float64 `toml:"update_interval_s"`
	MaxPendingTranscriptions int     `toml:"max_pending_transcriptions"`
	APITimeoutS              float64 `toml:"api_timeout_s"`
	MaxRetries               int     `toml:"max_retries"`
	RetryBaseDelayS          float64 `toml:"retry_base_delay_s"`
}

func (c SummarizerConfig) UpdateInterval() time.Duration { return seconds(c.UpdateIntervalS) }
func (c SummarizerConfig) APITimeout() time.Duration     { return seconds(c.APITimeoutS) }
func (c SummarizerConfig) RetryBaseDelay() time.Duration { return seconds(c.RetryBaseDelayS) }

// WebConfig locates the admin web server.
type WebConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DatabaseConfig locates the Postgres instance. An empty DSN disables
// persistence.
type DatabaseConfig struct {
	DSN string `toml:"dsn"`
}

// DiscordConfig names the Discord resources the bot attaches to.
type DiscordConfig struct {
	SummaryChannelID string `toml:"summary_channel_id"`
	VoiceChannelID   string `toml:"voice_channel_id"`
	GuildID          string `toml:"guild_id"`
}

// CampaignConfig is the static campaign context fed to the summarizer.
type CampaignConfig struct {
	ID              string   `toml:"id"`
	Name            string   `toml:"name"`
	GameSystem      string   `toml:"game_system"`
	Language        string   `toml:"language"`
	Description     string   `toml:"description"`
	CampaignSummary string   `toml:"campaign_summary"`
	Locations       []string `toml:"locations"`

	DM                 DMConfig           `toml:"dm"`
	Players            []PlayerConfig     `toml:"players"`
	NPCs               []NPCConfig        `toml:"npcs"`
	CustomInstructions CustomInstructions `toml:"custom_instructions"`
}

// DMConfig identifies the dungeon master's platform account.
type DMConfig struct {
	DiscordID string `toml:"discord_id"`
}

// PlayerConfig maps a platform account to a character.
type PlayerConfig struct {
	DiscordID            string `toml:"discord_id"`
	DiscordName          string `toml:"discord_name"`
	CharacterName        string `toml:"character_name"`
	CharacterDescription string `toml:"character_description"`
}

// NPCConfig is a known non-player character.
type NPCConfig struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// CustomInstructions carries extra summarizer guidance verbatim.
type CustomInstructions struct {
	Text string `toml:"text"`
}

// SpeakerMap returns the platform-id → character-name mapping derived from
// the player list.
func (c *CampaignConfig) SpeakerMap() map[string]string {
	m := make(map[string]string, len(c.Players))
	for _, p := range c.Players {
		m[p.DiscordID] = p.CharacterName
	}
	return m
}

// CharacterNames returns the character names of all players, in config order.
func (c *CampaignConfig) CharacterNames() []string {
	names := make([]string, 0, len(c.Players))
	for _, p := range c.Players {
		if p.CharacterName != "" {
			names = append(names, p.CharacterName)
		}
	}
	return names
}

// Default returns a [Config] with every tunable at its default value.
func Default() *Config {
	return &Config{
		Listener: ListenerConfig{
			ChunkDurationS:         10.0,
			SilenceThresholdS:      1.5,
			ShortSilenceThresholdS: 0.5,
			MinChunkDurationS:      0.5,
			SampleRate:             48000,
			Channels:               1,
			SampleWidth:            2,
			VADAggressiveness:      2,
		},
		Transcriber: TranscriberConfig{
			Model:                 "whisper-1",
			Language:              "en",
			APITimeoutS:           30.0,
			MaxConcurrentRequests: 4,
			QueueMaxSize:          64,
			MaxRetries:            3,
			RetryBaseDelayS:       1.0,
		},
		Summarizer: SummarizerConfig{
			Model:                    "claude-sonnet-4-5",
			MaxTokens:                4096,
			UpdateIntervalS:          120.0,
			MaxPendingTranscriptions: 20,
			APITimeoutS:              60.0,
			MaxRetries:               3,
			RetryBaseDelayS:          2.0,
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
	}
}

// fillDefaults replaces zero values in cfg with the defaults from [Default].
// Only fields where zero is never a meaningful setting are filled.
func fillDefaults(cfg *Config) {
	def := Default()

	l, dl := &cfg.Listener, def.Listener
	if l.ChunkDurationS <= 0 {
		l.ChunkDurationS = dl.ChunkDurationS
	}
	if l.SilenceThresholdS <= 0 {
		l.SilenceThresholdS = dl.SilenceThresholdS
	}
	if l.ShortSilenceThresholdS <= 0 {
		l.ShortSilenceThresholdS = dl.ShortSilenceThresholdS
	}
	if l.MinChunkDurationS <= 0 {
		l.MinChunkDurationS = dl.MinChunkDurationS
	}
	if l.SampleRate <= 0 {
		l.SampleRate = dl.SampleRate
	}
	if l.Channels <= 0 {
		l.Channels = dl.Channels
	}
	if l.SampleWidth <= 0 {
		l.SampleWidth = dl.SampleWidth
	}

	t, dt := &cfg.Transcriber, def.Transcriber
	if t.Model == "" {
		t.Model = dt.Model
	}
	if t.Language == "" {
		t.Language = dt.Language
	}
	if t.APITimeoutS <= 0 {
		t.APITimeoutS = dt.APITimeoutS
	}
	if t.MaxConcurrentRequests <= 0 {
		t.MaxConcurrentRequests = dt.MaxConcurrentRequests
	}
	if t.QueueMaxSize <= 0 {
		t.QueueMaxSize = dt.QueueMaxSize
	}
	if t.MaxRetries <= 0 {
		t.MaxRetries = dt.MaxRetries
	}
	if t.RetryBaseDelayS <= 0 {
		t.RetryBaseDelayS = dt.RetryBaseDelayS
	}

	s, ds := &cfg.Summarizer, def.Summarizer
	if s.Model == "" {
		s.Model = ds.Model
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = ds.MaxTokens
	}
	if s.UpdateIntervalS <= 0 {
		s.UpdateIntervalS = ds.UpdateIntervalS
	}
	if s.MaxPendingTranscriptions <= 0 {
		s.MaxPendingTranscriptions = ds.MaxPendingTranscriptions
	}
	if s.APITimeoutS <= 0 {
		s.APITimeoutS = ds.APITimeoutS
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = ds.MaxRetries
	}
	if s.RetryBaseDelayS <= 0 {
		s.RetryBaseDelayS = ds.RetryBaseDelayS
	}

	if cfg.Web.Host == "" {
		cfg.Web.Host = def.Web.Host
	}
	if cfg.Web.Port <= 0 {
		cfg.Web.Port = def.Web.Port
	}

	if cfg.Campaign != nil && cfg.Campaign.Language == "" {
		cfg.Campaign.Language = "en"
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
