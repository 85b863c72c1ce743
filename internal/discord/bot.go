package discord

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Bot routes interactions from an already-open gateway session to registered
// command handlers and manages slash command registration with the Discord
// API. It does not own the session; the caller opens and closes it.
type Bot struct {
	log     *slog.Logger
	session *discordgo.Session
	router  *CommandRouter
	guildID string

	mu        sync.Mutex
	commands  []*discordgo.ApplicationCommand
	closeOnce sync.Once
}

// NewBot creates a Bot on the given session and registers the interaction
// handler. A nil logger falls back to [slog.Default].
func NewBot(log *slog.Logger, session *discordgo.Session, guildID string) *Bot {
	if log == nil {
		log = slog.Default()
	}
	b := &Bot{
		log:     log,
		session: session,
		router:  NewCommandRouter(log),
		guildID: guildID,
	}
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	return b
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Start registers the routed slash commands with the Discord API.
func (b *Bot) Start() error {
	appID := b.session.State.User.ID
	cmds := b.router.ApplicationCommands()
	if len(cmds) == 0 {
		return nil
	}
	registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
	if err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}
	b.mu.Lock()
	b.commands = registered
	b.mu.Unlock()
	b.log.Info("discord commands registered", "count", len(registered))
	return nil
}

// Close unregisters the slash commands. The session stays open.
func (b *Bot) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		appID := b.session.State.User.ID
		for _, cmd := range b.commands {
			if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
				b.log.Warn("failed to delete command", "name", cmd.Name, "err", err)
			}
		}
	})
}
