package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func commandInteraction(name, sub string) *discordgo.InteractionCreate {
	data := discordgo.ApplicationCommandInteractionData{Name: name}
	if sub != "" {
		data.Options = []*discordgo.ApplicationCommandInteractionDataOption{
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: sub},
		}
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionApplicationCommand,
			Data: data,
		},
	}
}

func TestRouterDispatchesSubcommand(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter(nil)
	var got string
	r.RegisterHandler("scribe/start", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		got = "scribe/start"
	})
	r.RegisterHandler("scribe/stop", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		got = "scribe/stop"
	})

	r.Handle(nil, commandInteraction("scribe", "stop"))
	if got != "scribe/stop" {
		t.Errorf("dispatched to %q, want %q", got, "scribe/stop")
	}
}

func TestRouterDispatchesModalByPrefix(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter(nil)
	var got string
	r.RegisterModalPrefix("scribe_answer:", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		got = i.ModalSubmitData().CustomID
	})

	r.Handle(nil, &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionModalSubmit,
			Data: discordgo.ModalSubmitInteractionData{CustomID: "scribe_answer:7"},
		},
	})
	if got != "scribe_answer:7" {
		t.Errorf("modal handler saw %q, want %q", got, "scribe_answer:7")
	}
}

func TestApplicationCommandsDeduplicates(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter(nil)
	def := &discordgo.ApplicationCommand{Name: "scribe"}
	noop := func(s *discordgo.Session, i *discordgo.InteractionCreate) {}
	r.RegisterCommand("scribe", def, noop)
	r.RegisterHandler("scribe/start", noop)
	r.RegisterHandler("scribe/stop", noop)

	cmds := r.ApplicationCommands()
	if len(cmds) != 1 {
		t.Fatalf("ApplicationCommands() count = %d, want 1", len(cmds))
	}
	if cmds[0].Name != "scribe" {
		t.Errorf("command name = %q, want %q", cmds[0].Name, "scribe")
	}
}

func TestInteractionKey(t *testing.T) {
	t.Parallel()

	if got := interactionKey(commandInteraction("scribe", "").ApplicationCommandData()); got != "scribe" {
		t.Errorf("interactionKey(top-level) = %q, want %q", got, "scribe")
	}
	if got := interactionKey(commandInteraction("scribe", "ask").ApplicationCommandData()); got != "scribe/ask" {
		t.Errorf("interactionKey(subcommand) = %q, want %q", got, "scribe/ask")
	}
}
