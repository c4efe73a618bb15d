package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundarb/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSender struct {
	name   string
	err    error
	titles []string
}

func (s *stubSender) Send(ctx context.Context, title, message string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func newStubNotifier(events []string, senders ...Sender) *Notifier {
	n := New(config.NotifyConfig{Events: events}, testLogger())
	n.senders = senders
	return n
}

func TestNewSkipsChannelsWithoutCredentials(t *testing.T) {
	n := New(config.NotifyConfig{}, testLogger())
	assert.Empty(t, n.senders)

	// Telegram needs both token and chat id.
	n = New(config.NotifyConfig{TelegramToken: "tok"}, testLogger())
	assert.Empty(t, n.senders)

	n = New(config.NotifyConfig{
		TelegramToken:     "tok",
		TelegramChatID:    "chat",
		DiscordWebhookURL: "https://discord.example/webhook",
	}, testLogger())
	assert.Len(t, n.senders, 2)
}

func TestNotifyHonorsEventFilter(t *testing.T) {
	stub := &stubSender{name: "stub"}
	n := newStubNotifier([]string{"execution_completed"}, stub)

	require.NoError(t, n.Notify(context.Background(), "opportunity_validated", "skipped", ""))
	assert.Empty(t, stub.titles)

	require.NoError(t, n.Notify(context.Background(), "execution_completed", "delivered", ""))
	assert.Equal(t, []string{"delivered"}, stub.titles)
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	stub := &stubSender{name: "stub"}
	n := newStubNotifier(nil, stub)

	require.NoError(t, n.Notify(context.Background(), "anything", "delivered", ""))
	assert.Len(t, stub.titles, 1)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	stub := &stubSender{name: "stub"}
	n := newStubNotifier([]string{"execution_completed"}, stub)

	require.NoError(t, n.NotifyAll(context.Background(), "engine started", ""))
	assert.Equal(t, []string{"engine started"}, stub.titles)
}

func TestDispatchAggregatesSenderFailures(t *testing.T) {
	broken := &stubSender{name: "broken", err: errors.New("boom")}
	healthy := &stubSender{name: "healthy"}
	n := newStubNotifier(nil, broken, healthy)

	err := n.NotifyAll(context.Background(), "alert", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Contains(t, err.Error(), "broken: boom")

	// The failing channel never blocks the healthy one.
	assert.Len(t, healthy.titles, 1)
}

func TestNotifyWithoutSendersIsNoOp(t *testing.T) {
	n := New(config.NotifyConfig{}, testLogger())
	assert.NoError(t, n.NotifyAll(context.Background(), "alert", "body"))
}

func TestDiscordSenderPostsBoldTitle(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Emergency Stop", "engine halted"))
	assert.Equal(t, "**Emergency Stop**\nengine halted", got["content"])
}

func TestDiscordSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
}
