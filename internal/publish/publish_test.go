package publish

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/chronicler/internal/bus"
	"github.com/MrWong99/chronicler/internal/events"
)

type fakeMessenger struct {
	mu       sync.Mutex
	messages []string
	channels []string
}

func (f *fakeMessenger) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channelID)
	f.messages = append(f.messages, content)
	return &discordgo.Message{}, nil
}

func (f *fakeMessenger) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func update(kind events.UpdateKind, session, campaign string) events.SummaryUpdate {
	return events.SummaryUpdate{
		SessionID:       "sess-1",
		SessionSummary:  session,
		CampaignSummary: campaign,
		LastUpdated:     time.Now(),
		Kind:            kind,
	}
}

func TestRateLimitsIncrementalUpdates(t *testing.T) {
	ctx := context.Background()
	b := bus.New(nil)
	m := &fakeMessenger{}
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

	p := New(nil, b, m, "chan-1", WithClock(func() time.Time { return now }))
	p.Start()
	defer p.Stop()

	b.Publish(ctx, update(events.UpdateIncremental, "First.", ""))
	b.Publish(ctx, update(events.UpdateIncremental, "Second.", ""))
	if got := m.sent(); len(got) != 1 || !strings.Contains(got[0], "First.") {
		t.Fatalf("sent = %v, want only the first update", got)
	}

	now = now.Add(6 * time.Second)
	b.Publish(ctx, update(events.UpdateIncremental, "Third.", ""))
	got := m.sent()
	if len(got) != 2 || !strings.Contains(got[1], "Third.") {
		t.Fatalf("sent = %v, want the third update after the interval", got)
	}
	if m.channels[0] != "chan-1" {
		t.Errorf("channel = %q", m.channels[0])
	}
}

func TestFinalUpdateBypassesRateLimit(t *testing.T) {
	ctx := context.Background()
	b := bus.New(nil)
	m := &fakeMessenger{}
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

	p := New(nil, b, m, "chan-1", WithClock(func() time.Time { return now }))
	p.Start()
	defer p.Stop()

	b.Publish(ctx, update(events.UpdateIncremental, "Running.", ""))
	b.Publish(ctx, update(events.UpdateFinal, "Done.", "Chapter one."))

	got := m.sent()
	if len(got) != 2 {
		t.Fatalf("sent %d messages, want 2", len(got))
	}
	if !strings.Contains(got[1], "Done.") || !strings.Contains(got[1], "Chapter one.") {
		t.Errorf("final message = %q", got[1])
	}
}

func TestSplitMessage(t *testing.T) {
	para := strings.Repeat("a", 900)
	content := para + "\n\n" + para + "\n\n" + para

	parts := splitMessage(content, 2000)
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	for i, part := range parts {
		if len(part) > 2000 {
			t.Errorf("part %d exceeds limit: %d", i, len(part))
		}
	}
	if parts[0] != para+"\n\n"+para {
		t.Errorf("first part did not pack two paragraphs")
	}

	oversized := strings.Repeat("b", 4500)
	parts = splitMessage(oversized, 2000)
	if len(parts) != 3 {
		t.Fatalf("oversized paragraph split into %d parts, want 3", len(parts))
	}
	if len(parts[0]) != 2000 || len(parts[1]) != 2000 || len(parts[2]) != 500 {
		t.Errorf("part lengths = %d %d %d", len(parts[0]), len(parts[1]), len(parts[2]))
	}

	short := "short"
	if parts := splitMessage(short, 2000); len(parts) != 1 || parts[0] != "short" {
		t.Errorf("short content split: %v", parts)
	}
}
