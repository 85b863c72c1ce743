// Package discord joins Discord voice channels and turns their Opus traffic
// into the per-speaker PCM frames the rest of the pipeline consumes.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/chronicler/pkg/audio"
)

// Platform joins voice channels of a single guild over an established
// discordgo session.
type Platform struct {
	log     *slog.Logger
	session *discordgo.Session
	guildID string

	mu    sync.Mutex
	names map[string]string
}

var _ audio.Platform = (*Platform)(nil)

// New creates a [Platform] for the given guild. A nil logger falls back to
// [slog.Default]. The session must already be open and carry the voice
// states intent.
func New(log *slog.Logger, session *discordgo.Session, guildID string) *Platform {
	if log == nil {
		log = slog.Default()
	}
	return &Platform{
		log:     log,
		session: session,
		guildID: guildID,
		names:   make(map[string]string),
	}
}

// Connect joins the voice channel and starts delivering decoded frames to h.
func (p *Platform) Connect(ctx context.Context, channelID string, h audio.FrameHandler) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: connect: %w", err)
	}

	vc, err := p.session.ChannelVoiceJoin(p.guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %s: %w", channelID, err)
	}
	p.log.Info("joined voice channel", "guild_id", p.guildID, "channel_id", channelID)

	conn := newConnection(p.log, vc, h, p.displayName)
	conn.start()
	return conn, nil
}

// displayName resolves a user id to the name shown in the guild, preferring
// the server nickname. Lookups are cached; an unresolvable user keeps its id
// as the name.
func (p *Platform) displayName(userID string) string {
	p.mu.Lock()
	if name, ok := p.names[userID]; ok {
		p.mu.Unlock()
		return name
	}
	p.mu.Unlock()

	name := userID
	member, err := p.session.State.Member(p.guildID, userID)
	if err != nil {
		member, err = p.session.GuildMember(p.guildID, userID)
	}
	if err == nil {
		switch {
		case member.Nick != "":
			name = member.Nick
		case member.User != nil && member.User.GlobalName != "":
			name = member.User.GlobalName
		case member.User != nil:
			name = member.User.Username
		}
	} else {
		p.log.Warn("resolving member name failed", "user_id", userID, "error", err)
	}

	p.mu.Lock()
	p.names[userID] = name
	p.mu.Unlock()
	return name
}
