package discord

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/convoy/internal/telegraph"
)

// mockSession records sends and can be told to fail.
type mockSession struct {
	mu       sync.Mutex
	userErr  error
	lookups  []string
	sendErrs []error // consumed in order, then nil
	sent     map[string][]*discordgo.MessageSend
	closed   bool
}

func newMockSession() *mockSession {
	return &mockSession{sent: make(map[string][]*discordgo.MessageSend)}
}

func (m *mockSession) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	m.lookups = append(m.lookups, userID)
	if m.userErr != nil {
		return nil, m.userErr
	}
	return &discordgo.User{ID: "bot-1", Username: "convoy"}, nil
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.sent[channelID] = append(m.sent[channelID], data)
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func (m *mockSession) Close() error {
	m.closed = true
	return nil
}

func (m *mockSession) sentTo(channelID string) []*discordgo.MessageSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[channelID]
}

func rateLimitErr() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
}

func newConnected(t *testing.T, sess *mockSession) *Adapter {
	t.Helper()
	a, err := New(AdapterOpts{ChannelID: "chan-default", Session: sess})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.baseBackoff = time.Millisecond
	a.maxBackoff = 5 * time.Millisecond
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return a
}

func TestNew_RequiresBotToken(t *testing.T) {
	if _, err := New(AdapterOpts{}); err == nil {
		t.Fatal("expected error without bot token")
	}
}

func TestConnect_VerifiesToken(t *testing.T) {
	sess := newMockSession()
	a := newConnected(t, sess)
	if len(sess.lookups) != 1 || sess.lookups[0] != "@me" {
		t.Errorf("user lookups = %v, want [@me]", sess.lookups)
	}
	if a.Name() != "discord" {
		t.Errorf("Name = %q", a.Name())
	}
}

func TestConnect_TokenRejected(t *testing.T) {
	sess := newMockSession()
	sess.userErr = fmt.Errorf("401 unauthorized")
	a, _ := New(AdapterOpts{Session: sess})
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSend_EmbedsToDefaultChannel(t *testing.T) {
	sess := newMockSession()
	a := newConnected(t, sess)

	err := a.Send(context.Background(), telegraph.OutboundMessage{
		Text:   "Task req-1 failed",
		Events: []telegraph.FormattedEvent{{Title: "Task req-1 failed", Color: telegraph.ColorError}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	sent := sess.sentTo("chan-default")
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sent))
	}
	if sent[0].Content != "Task req-1 failed" || len(sent[0].Embeds) != 1 {
		t.Errorf("message = %+v", sent[0])
	}
	if sent[0].Embeds[0].Color != 0xe53935 {
		t.Errorf("embed color = %x", sent[0].Embeds[0].Color)
	}
}

func TestSend_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Session: newMockSession(), ChannelID: "c"})
	if err := a.Send(context.Background(), telegraph.OutboundMessage{Text: "x"}); err == nil {
		t.Fatal("expected not connected error")
	}
}

func TestSend_NoChannel(t *testing.T) {
	a, _ := New(AdapterOpts{Session: newMockSession()})
	a.Connect(context.Background())
	if err := a.Send(context.Background(), telegraph.OutboundMessage{Text: "x"}); err == nil {
		t.Fatal("expected no channel error")
	}
}

func TestSend_RetriesOnRateLimit(t *testing.T) {
	sess := newMockSession()
	sess.sendErrs = []error{rateLimitErr(), rateLimitErr()}
	a := newConnected(t, sess)

	if err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "c2", Text: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sess.sentTo("c2")) != 1 {
		t.Errorf("expected delivery after retries")
	}
}

func TestSend_NonRateLimitErrorNotRetried(t *testing.T) {
	sess := newMockSession()
	sess.sendErrs = []error{&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}}
	a := newConnected(t, sess)

	if err := a.Send(context.Background(), telegraph.OutboundMessage{Text: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if len(sess.sentTo("chan-default")) != 0 {
		t.Errorf("should not retry a 403")
	}
}

func TestRetryOnRateLimit_ExhaustsRetries(t *testing.T) {
	a := newConnected(t, newMockSession())
	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		return rateLimitErr()
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != maxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, maxRetries+1)
	}
}

func TestClose_ClosesSessionOnce(t *testing.T) {
	sess := newMockSession()
	a := newConnected(t, sess)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sess.closed {
		t.Error("session not closed")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := a.Connect(context.Background()); err == nil {
		t.Error("expected error connecting a closed adapter")
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"#36a64f", 0x36a64f},
		{"ff9800", 0xff9800},
		{"#E53935", 0xe53935},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseHexColor(tt.in); got != tt.want {
			t.Errorf("parseHexColor(%q) = %x, want %x", tt.in, got, tt.want)
		}
	}
}

func TestEventToEmbed_Fields(t *testing.T) {
	embed := eventToEmbed(telegraph.FormattedEvent{
		Title:  "t",
		Body:   "b",
		Fields: []telegraph.Field{{Name: "Account", Value: "acct", Short: true}},
	})
	if embed.Description != "b" || embed.Color != 0 {
		t.Errorf("embed = %+v", embed)
	}
	if len(embed.Fields) != 1 || !embed.Fields[0].Inline {
		t.Errorf("fields = %+v", embed.Fields)
	}
}
