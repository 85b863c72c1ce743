// Package discord provides the slash command surface of the bot: a router
// dispatching interactions to registered handlers, response helpers, and the
// /scribe command group controlling the recording session.
package discord

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc is the signature for interaction handlers.
type HandlerFunc func(s *discordgo.Session, i *discordgo.InteractionCreate)

// commandEntry stores a command definition along with its handler.
type commandEntry struct {
	command *discordgo.ApplicationCommand
	handler HandlerFunc
}

// CommandRouter dispatches Discord interactions to registered handlers.
type CommandRouter struct {
	log *slog.Logger

	mu          sync.RWMutex
	commands    map[string]commandEntry // "command" or "command/subcommand" → entry
	modalPrefix map[string]HandlerFunc  // custom_id prefix → handler (for modal submits)
}

// NewCommandRouter creates an empty router. A nil logger falls back to
// [slog.Default].
func NewCommandRouter(log *slog.Logger) *CommandRouter {
	if log == nil {
		log = slog.Default()
	}
	return &CommandRouter{
		log:         log,
		commands:    make(map[string]commandEntry),
		modalPrefix: make(map[string]HandlerFunc),
	}
}

// RegisterCommand registers a handler for a slash command. The key format is
// "command" or "command/subcommand" (e.g., "scribe/start"). The cmd
// definition is used when registering commands with Discord; only top-level
// commands carry one, subcommands are nested inside it.
func (r *CommandRouter) RegisterCommand(key string, cmd *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[key] = commandEntry{command: cmd, handler: handler}
}

// RegisterHandler registers a handler for a subcommand key whose parent
// command is already registered.
func (r *CommandRouter) RegisterHandler(key string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[key] = commandEntry{handler: handler}
}

// RegisterModalPrefix registers a handler for modal submits whose custom_id
// starts with the given prefix. The suffix typically carries a record id.
func (r *CommandRouter) RegisterModalPrefix(prefix string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modalPrefix[prefix] = handler
}

// ApplicationCommands returns the deduplicated list of top-level command
// definitions for registration with the Discord API.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var cmds []*discordgo.ApplicationCommand
	for _, entry := range r.commands {
		if entry.command != nil && !seen[entry.command.Name] {
			seen[entry.command.Name] = true
			cmds = append(cmds, entry.command)
		}
	}
	return cmds
}

// Handle dispatches an interaction to the appropriate handler.
func (r *CommandRouter) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		r.handleApplicationCommand(s, i)

	case discordgo.InteractionModalSubmit:
		r.handleModal(s, i)

	default:
		r.log.Warn("unhandled interaction type", "type", i.Type)
	}
}

// interactionKey builds a router key from an ApplicationCommand interaction.
func interactionKey(data discordgo.ApplicationCommandInteractionData) string {
	key := data.Name
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		key += "/" + data.Options[0].Name
	}
	return key
}

func (r *CommandRouter) handleApplicationCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	key := interactionKey(data)

	r.mu.RLock()
	entry, ok := r.commands[key]
	r.mu.RUnlock()

	if !ok {
		r.log.Warn("unknown command", "key", key)
		RespondEphemeral(s, i, "Unknown command.")
		return
	}
	entry.handler(s, i)
}

func (r *CommandRouter) handleModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	customID := i.ModalSubmitData().CustomID

	r.mu.RLock()
	var handler HandlerFunc
	for prefix, h := range r.modalPrefix {
		if strings.HasPrefix(customID, prefix) {
			handler = h
			break
		}
	}
	r.mu.RUnlock()

	if handler == nil {
		r.log.Warn("unknown modal", "custom_id", customID)
		RespondEphemeral(s, i, "Unknown modal.")
		return
	}
	handler(s, i)
}
