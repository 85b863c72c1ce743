// Package publish posts summary updates to a Discord text channel.
//
// Incremental updates are rate limited so the channel is not flooded during
// lively passages; final summaries always go out.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/chronicler/internal/bus"
	"github.com/MrWong99/chronicler/internal/events"
)

// subscriberID is the bus handler id for the summary subscription.
const subscriberID = "publisher"

// discordMessageLimit is Discord's hard cap on message content length.
const discordMessageLimit = 2000

// defaultMinInterval is the minimum spacing between non-final posts.
const defaultMinInterval = 5 * time.Second

// Messenger is the slice of the Discord API the publisher needs.
// *discordgo.Session satisfies it.
type Messenger interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Option customises a [Publisher].
type Option func(*Publisher)

// WithClock replaces the wall clock, for tests driving the rate limit.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.clock = now
	}
}

// WithMinInterval overrides the spacing between non-final posts.
func WithMinInterval(d time.Duration) Option {
	return func(p *Publisher) {
		p.minInterval = d
	}
}

// Publisher mirrors [events.SummaryUpdate] into a Discord channel.
type Publisher struct {
	log       *slog.Logger
	bus       *bus.Bus
	messenger Messenger
	channelID string

	minInterval time.Duration
	clock       func() time.Time

	mu          sync.Mutex
	lastPublish time.Time
}

// New creates a [Publisher] posting to the given channel. A nil logger falls
// back to [slog.Default].
func New(log *slog.Logger, b *bus.Bus, messenger Messenger, channelID string, opts ...Option) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		log:         log,
		bus:         b,
		messenger:   messenger,
		channelID:   channelID,
		minInterval: defaultMinInterval,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start subscribes the publisher to summary updates.
func (p *Publisher) Start() {
	bus.Subscribe(p.bus, subscriberID, p.handleSummary)
}

// Stop unsubscribes the publisher.
func (p *Publisher) Stop() {
	p.bus.Unsubscribe(events.TypeSummaryUpdate, subscriberID)
}

func (p *Publisher) handleSummary(ctx context.Context, ev events.SummaryUpdate) error {
	now := p.clock()

	p.mu.Lock()
	if ev.Kind != events.UpdateFinal && now.Sub(p.lastPublish) < p.minInterval {
		p.mu.Unlock()
		return nil
	}
	p.lastPublish = now
	p.mu.Unlock()

	for _, msg := range splitMessage(render(ev), discordMessageLimit) {
		if _, err := p.messenger.ChannelMessageSend(p.channelID, msg); err != nil {
			return fmt.Errorf("publish: send summary to channel %s: %w", p.channelID, err)
		}
	}
	return nil
}

// render formats one update as Discord markdown. Final updates carry the
// campaign summary as well.
func render(ev events.SummaryUpdate) string {
	if ev.Kind == events.UpdateFinal {
		return fmt.Sprintf("**Final session summary**\n\n%s\n\n**The campaign so far**\n\n%s",
			ev.SessionSummary, ev.CampaignSummary)
	}
	return fmt.Sprintf("**Session summary** (live)\n\n%s", ev.SessionSummary)
}

// splitMessage breaks content into chunks of at most limit runes, preferring
// paragraph boundaries. A single oversized paragraph is hard-split.
func splitMessage(content string, limit int) []string {
	if len(content) <= limit {
		return []string{content}
	}

	var out []string
	var current strings.Builder
	for _, para := range strings.Split(content, "\n\n") {
		for len(para) > limit {
			if current.Len() > 0 {
				out = append(out, current.String())
				current.Reset()
			}
			out = append(out, para[:limit])
			para = para[limit:]
		}
		switch {
		case current.Len() == 0:
			current.WriteString(para)
		case current.Len()+2+len(para) <= limit:
			current.WriteString("\n\n")
			current.WriteString(para)
		default:
			out = append(out, current.String())
			current.Reset()
			current.WriteString(para)
		}
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}
