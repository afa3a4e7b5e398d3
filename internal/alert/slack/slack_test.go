package slack

import (
	"context"
	"fmt"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/courier/internal/alert"
)

// mockClient records posts and can fail a configurable number of times.
type mockClient struct {
	calls    int
	failures int
	err      error
	channel  string
	options  [][]slackapi.MsgOption
}

func (m *mockClient) PostMessageContext(_ context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.calls++
	m.channel = channelID
	m.options = append(m.options, options)
	if m.failures > 0 {
		m.failures--
		return "", "", m.err
	}
	return channelID, "123.456", nil
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{ChannelID: "C123"}); err == nil {
		t.Error("expected error without token or client")
	}
	if _, err := New(Opts{BotToken: "xoxb-test"}); err == nil {
		t.Error("expected error without channel")
	}
	if _, err := New(Opts{BotToken: "xoxb-test", ChannelID: "C123"}); err != nil {
		t.Errorf("New() error: %v", err)
	}
}

func TestNotify_Posts(t *testing.T) {
	mock := &mockClient{}
	n, err := New(Opts{ChannelID: "C123", Client: mock})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	evt := alert.Event{
		Title:    "Repeated dispatch failure",
		Body:     "Unit m-1 failed 3 times.",
		Severity: "error",
		Fields:   []alert.Field{{Name: "Unit", Value: "m-1", Short: true}},
	}
	if err := n.Notify(context.Background(), evt); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	if mock.calls != 1 {
		t.Errorf("calls = %d, want 1", mock.calls)
	}
	if mock.channel != "C123" {
		t.Errorf("channel = %q, want C123", mock.channel)
	}
}

func TestNotify_RetriesOnRateLimit(t *testing.T) {
	mock := &mockClient{
		failures: 2,
		err:      &slackapi.RateLimitedError{RetryAfter: time.Millisecond},
	}
	n, _ := New(Opts{ChannelID: "C123", Client: mock})

	if err := n.Notify(context.Background(), alert.Event{Title: "x"}); err != nil {
		t.Fatalf("Notify() error after retries: %v", err)
	}
	if mock.calls != 3 {
		t.Errorf("calls = %d, want 3 (2 rate-limited + 1 success)", mock.calls)
	}
}

func TestNotify_GivesUpAfterMaxRetries(t *testing.T) {
	mock := &mockClient{
		failures: maxRetries + 1,
		err:      &slackapi.RateLimitedError{RetryAfter: time.Millisecond},
	}
	n, _ := New(Opts{ChannelID: "C123", Client: mock})

	if err := n.Notify(context.Background(), alert.Event{Title: "x"}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if mock.calls != maxRetries+1 {
		t.Errorf("calls = %d, want %d", mock.calls, maxRetries+1)
	}
}

func TestNotify_NonRateLimitErrorNotRetried(t *testing.T) {
	mock := &mockClient{failures: 1, err: fmt.Errorf("channel_not_found")}
	n, _ := New(Opts{ChannelID: "C123", Client: mock})

	if err := n.Notify(context.Background(), alert.Event{Title: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if mock.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", mock.calls)
	}
}

func TestNotify_AfterCloseFails(t *testing.T) {
	mock := &mockClient{}
	n, _ := New(Opts{ChannelID: "C123", Client: mock})

	if err := n.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := n.Notify(context.Background(), alert.Event{Title: "x"}); err == nil {
		t.Fatal("expected error notifying a closed notifier")
	}
	if mock.calls != 0 {
		t.Errorf("calls = %d, want 0", mock.calls)
	}
}

func TestEventToAttachment(t *testing.T) {
	evt := alert.Event{
		Title:    "Daily Digest",
		Body:     "all good",
		Severity: "info",
		Fields: []alert.Field{
			{Name: "Delivered", Value: "5", Short: true},
			{Name: "Backlog", Value: "2", Short: true},
		},
	}

	att := eventToAttachment(evt)
	if att.Title != "Daily Digest" || att.Text != "all good" {
		t.Errorf("attachment = %+v", att)
	}
	if att.Color != alert.ColorInfo {
		t.Errorf("color = %q, want %q", att.Color, alert.ColorInfo)
	}
	if len(att.Fields) != 2 || att.Fields[0].Title != "Delivered" || !att.Fields[0].Short {
		t.Errorf("fields = %+v", att.Fields)
	}
}
