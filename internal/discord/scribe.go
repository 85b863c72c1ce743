package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/chronicler/internal/app"
	"github.com/MrWong99/chronicler/internal/store"
)

// answerModalPrefix prefixes the custom_id of question answer modals; the
// suffix is the question row id.
const answerModalPrefix = "scribe_answer:"

// embedDescriptionLimit is Discord's maximum embed description length.
const embedDescriptionLimit = 4096

// modalLabelLimit is Discord's maximum text input label length.
const modalLabelLimit = 45

// startTimeout bounds joining the voice channel, stopTimeout the final
// summary pass.
const (
	startTimeout = 30 * time.Second
	stopTimeout  = 2 * time.Minute
)

// ScribeCommands implements the /scribe command group: session start and
// stop, status, the current summary, and answering the summarizer's open
// questions.
type ScribeCommands struct {
	log        *slog.Logger
	app        *app.App
	store      store.Store
	guildID    string
	campaignID string
}

// NewScribeCommands creates the command group and registers its handlers
// with the bot's router. A nil logger falls back to [slog.Default].
func NewScribeCommands(log *slog.Logger, bot *Bot, a *app.App, st store.Store, campaignID string) *ScribeCommands {
	if log == nil {
		log = slog.Default()
	}
	sc := &ScribeCommands{
		log:        log,
		app:        a,
		store:      st,
		guildID:    bot.guildID,
		campaignID: campaignID,
	}
	sc.Register(bot.Router())
	return sc
}

// Register registers the /scribe command group with the router.
func (sc *ScribeCommands) Register(router *CommandRouter) {
	router.RegisterCommand("scribe", sc.Definition(), func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		RespondEphemeral(s, i, "Please use a subcommand: `/scribe start`, `stop`, `status`, `summary` or `ask`.")
	})
	router.RegisterHandler("scribe/start", sc.handleStart)
	router.RegisterHandler("scribe/stop", sc.handleStop)
	router.RegisterHandler("scribe/status", sc.handleStatus)
	router.RegisterHandler("scribe/summary", sc.handleSummary)
	router.RegisterHandler("scribe/ask", sc.handleAsk)
	router.RegisterModalPrefix(answerModalPrefix, sc.handleAnswerModal)
}

// Definition returns the ApplicationCommand definition for Discord.
func (sc *ScribeCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "scribe",
		Description: "Record and summarize the session",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "start",
				Description: "Start recording in your current voice channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stop",
				Description: "Stop recording and run the final summary",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show the recording status",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "summary",
				Description: "Show the current session summary",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "ask",
				Description: "Answer an open question from the summarizer",
			},
		},
	}
}

// handleStart handles /scribe start.
func (sc *ScribeCommands) handleStart(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if id := sc.app.SessionID(); id != "" {
		RespondEphemeral(s, i, fmt.Sprintf("Already recording session `%s`. Use `/scribe stop` first.", id))
		return
	}

	userID := interactionUserID(i)
	vs, err := s.State.VoiceState(sc.guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		RespondEphemeral(s, i, "You must be in a voice channel to start recording.")
		return
	}

	// Joining voice may take a moment.
	DeferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	sessionID, err := sc.app.StartSessionIn(ctx, vs.ChannelID)
	if err != nil {
		FollowUp(s, i, fmt.Sprintf("Failed to start recording: %v", err))
		return
	}
	FollowUp(s, i, fmt.Sprintf("Recording started!\n**Session ID:** `%s`\n**Channel:** <#%s>", sessionID, vs.ChannelID))
}

// handleStop handles /scribe stop.
func (sc *ScribeCommands) handleStop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sessionID := sc.app.SessionID()
	if sessionID == "" {
		RespondEphemeral(s, i, "Not currently recording.")
		return
	}

	// The final summary pass can take a while.
	DeferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := sc.app.EndSession(ctx); err != nil {
		FollowUp(s, i, fmt.Sprintf("Failed to stop recording: %v", err))
		return
	}
	FollowUp(s, i, fmt.Sprintf("Recording stopped. Session `%s` ended.", sessionID))
}

// handleStatus handles /scribe status.
func (sc *ScribeCommands) handleStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sessionID := sc.app.SessionID()
	if sessionID == "" {
		RespondEphemeral(s, i, "Not currently recording.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := fmt.Sprintf("Recording session `%s`.", sessionID)
	if sess, err := sc.store.GetSession(ctx, sessionID); err == nil && sess != nil {
		status = fmt.Sprintf("Recording session `%s` for %s.",
			sessionID, time.Since(sess.StartedAt).Truncate(time.Second))
	}
	RespondEphemeral(s, i, status)
}

// handleSummary handles /scribe summary. Without an active session it falls
// back to the campaign's most recent session.
func (sc *ScribeCommands) handleSummary(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := sc.currentSession(ctx)
	if err != nil {
		RespondError(s, i, fmt.Errorf("discord: load session: %w", err))
		return
	}
	if sess == nil {
		RespondEphemeral(s, i, "No session recorded yet.")
		return
	}
	if sess.SessionSummary == "" {
		RespondEphemeral(s, i, "No summary yet. Give the scribe a little more to listen to.")
		return
	}

	RespondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "Session Summary",
		Description: truncate(sess.SessionSummary, embedDescriptionLimit),
		Color:       0x5865F2,
	})
}

// handleAsk handles /scribe ask: it opens an answer modal for the oldest
// pending question of the active session.
func (sc *ScribeCommands) handleAsk(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sessionID := sc.app.SessionID()
	if sessionID == "" {
		RespondEphemeral(s, i, "Not currently recording.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pending, err := sc.store.GetPendingQuestions(ctx, sessionID)
	if err != nil {
		RespondError(s, i, fmt.Errorf("discord: load questions: %w", err))
		return
	}
	if len(pending) == 0 {
		RespondEphemeral(s, i, "No open questions right now.")
		return
	}

	q := pending[0]
	required := true
	RespondModal(s, i, &discordgo.InteractionResponseData{
		CustomID: answerModalPrefix + strconv.FormatInt(q.ID, 10),
		Title:    "Answer the scribe",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:  "answer",
						Label:     truncate(q.Question, modalLabelLimit),
						Style:     discordgo.TextInputParagraph,
						Required:  &required,
						MaxLength: 1000,
					},
				},
			},
		},
	})
}

// handleAnswerModal processes the answer modal submission.
func (sc *ScribeCommands) handleAnswerModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ModalSubmitData()

	questionID, err := strconv.ParseInt(strings.TrimPrefix(data.CustomID, answerModalPrefix), 10, 64)
	if err != nil {
		RespondEphemeral(s, i, "This question is no longer valid.")
		return
	}

	var answer string
	for _, row := range data.Components {
		ar, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, comp := range ar.Components {
			if ti, ok := comp.(*discordgo.TextInput); ok && ti.CustomID == "answer" {
				answer = strings.TrimSpace(ti.Value)
			}
		}
	}
	if answer == "" {
		RespondEphemeral(s, i, "The answer cannot be empty.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sc.store.AnswerQuestion(ctx, questionID, answer); err != nil {
		RespondError(s, i, fmt.Errorf("discord: save answer: %w", err))
		return
	}
	RespondEphemeral(s, i, "Answer saved. It will flow into the next summary pass.")
}

// currentSession returns the active session, or the campaign's most recent
// one, or nil when nothing was recorded yet.
func (sc *ScribeCommands) currentSession(ctx context.Context) (*store.Session, error) {
	if id := sc.app.SessionID(); id != "" {
		return sc.store.GetSession(ctx, id)
	}
	sessions, err := sc.store.ListSessions(ctx, sc.campaignID)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return &sessions[0], nil
}

// truncate shortens s to at most limit runes, marking the cut with an
// ellipsis.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

// interactionUserID extracts the user ID from an interaction, handling both
// guild (Member) and DM (User) contexts.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
