package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Load reads the TOML configuration file at path and returns a validated
// [Config] with defaults filled in. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a TOML config from r, fills defaults, and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode toml: %w", err)
	}
	fillDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	l := cfg.Listener
	if l.MinChunkDurationS > l.ChunkDurationS {
		errs = append(errs, fmt.Errorf("listener.min_chunk_duration_s %.2f exceeds chunk_duration_s %.2f", l.MinChunkDurationS, l.ChunkDurationS))
	}
	if l.ShortSilenceThresholdS > l.SilenceThresholdS {
		errs = append(errs, fmt.Errorf("listener.short_silence_threshold_s %.2f exceeds silence_threshold_s %.2f", l.ShortSilenceThresholdS, l.SilenceThresholdS))
	}
	if l.Channels != 1 {
		errs = append(errs, fmt.Errorf("listener.channels %d is unsupported; chunks are mono", l.Channels))
	}
	if l.SampleWidth != 2 {
		errs = append(errs, fmt.Errorf("listener.sample_width %d is unsupported; chunks are 16-bit", l.SampleWidth))
	}
	if l.VADAggressiveness < 0 || l.VADAggressiveness > 3 {
		errs = append(errs, fmt.Errorf("listener.vad_aggressiveness %d is out of range [0, 3]", l.VADAggressiveness))
	}

	if cfg.Web.Port > 65535 {
		errs = append(errs, fmt.Errorf("web.port %d is out of range", cfg.Web.Port))
	}

	if c := cfg.Campaign; c != nil {
		if c.ID == "" {
			errs = append(errs, errors.New("campaign.id is required"))
		}
		if c.Name == "" {
			errs = append(errs, errors.New("campaign.name is required"))
		}
		seen := make(map[string]int, len(c.Players))
		for i, p := range c.Players {
			prefix := fmt.Sprintf("campaign.players[%d]", i)
			if p.DiscordID == "" {
				errs = append(errs, fmt.Errorf("%s.discord_id is required", prefix))
			} else {
				if prev, ok := seen[p.DiscordID]; ok {
					errs = append(errs, fmt.Errorf("%s.discord_id %q is a duplicate of campaign.players[%d]", prefix, p.DiscordID, prev))
				}
				seen[p.DiscordID] = i
			}
			if p.CharacterName == "" {
				errs = append(errs, fmt.Errorf("%s.character_name is required", prefix))
			}
		}
		for i, n := range c.NPCs {
			if n.Name == "" {
				errs = append(errs, fmt.Errorf("campaign.npcs[%d].name is required", i))
			}
		}
	}

	return errors.Join(errs...)
}

// Secrets holds credentials and environment overrides that never appear in
// the config file.
type Secrets struct {
	DiscordBotToken string
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

// SecretsFromEnv reads credentials from the process environment.
func SecretsFromEnv() Secrets {
	return Secrets{
		DiscordBotToken: os.Getenv("DISCORD_BOT_TOKEN"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
	}
}

// ApplyEnvOverrides replaces config values that have environment-variable
// counterparts: CHRONICLER_DB_DSN and CHRONICLER_WEB_ADDR (host:port).
func ApplyEnvOverrides(cfg *Config) error {
	if dsn := os.Getenv("CHRONICLER_DB_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if addr := os.Getenv("CHRONICLER_WEB_ADDR"); addr != "" {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("config: CHRONICLER_WEB_ADDR %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("config: CHRONICLER_WEB_ADDR port %q: %w", portStr, err)
		}
		cfg.Web.Host = host
		cfg.Web.Port = port
	}
	return nil
}
