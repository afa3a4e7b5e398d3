package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zulandar/courier/internal/models"
	"github.com/zulandar/courier/internal/queue"
)

// mockRenderer renders payloads by echoing them, or fails on a marked payload.
type mockRenderer struct {
	failOn string
	calls  int
}

func (m *mockRenderer) RenderText(_ context.Context, payload string) (string, error) {
	m.calls++
	if payload == m.failOn {
		return "", fmt.Errorf("render failed")
	}
	return "rendered:" + payload, nil
}

// mockSender records sends in order, or fails on a marked text.
type mockSender struct {
	failOn string
	sent   []string
}

func (m *mockSender) Send(_ context.Context, userID, text string) error {
	if text == m.failOn {
		return fmt.Errorf("send failed")
	}
	m.sent = append(m.sent, text)
	return nil
}

func unitOf(rows ...models.QueuedMessage) queue.DeliveryUnit {
	u := queue.DeliveryUnit{Rows: rows}
	if rows[0].SequenceID != nil {
		u.SequenceID = *rows[0].SequenceID
	}
	return u
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, &mockSender{}); err == nil {
		t.Error("expected error for nil renderer")
	}
	if _, err := New(&mockRenderer{}, nil); err == nil {
		t.Error("expected error for nil sender")
	}
	if _, err := New(&mockRenderer{}, &mockSender{}); err != nil {
		t.Errorf("New() error: %v", err)
	}
}

func TestDispatch_SendsPartsInOrder(t *testing.T) {
	sender := &mockSender{}
	d, _ := New(&mockRenderer{}, sender)

	seq := "seq-1"
	unit := unitOf(
		models.QueuedMessage{ID: "m1", UserID: "user-1", Payload: "one", SequenceID: &seq},
		models.QueuedMessage{ID: "m2", UserID: "user-1", Payload: "two", SequenceID: &seq},
		models.QueuedMessage{ID: "m3", UserID: "user-1", Payload: "three", SequenceID: &seq},
	)

	if err := d.Dispatch(context.Background(), unit); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	want := []string{"rendered:one", "rendered:two", "rendered:three"}
	if len(sender.sent) != 3 {
		t.Fatalf("sent %d parts, want 3", len(sender.sent))
	}
	for i, text := range sender.sent {
		if text != want[i] {
			t.Errorf("part %d = %q, want %q", i, text, want[i])
		}
	}
}

func TestDispatch_FinalTextSkipsRenderer(t *testing.T) {
	renderer := &mockRenderer{}
	sender := &mockSender{}
	d, _ := New(renderer, sender)

	unit := unitOf(models.QueuedMessage{ID: "m1", UserID: "user-1", FinalText: "already done"})
	if err := d.Dispatch(context.Background(), unit); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if renderer.calls != 0 {
		t.Errorf("renderer called %d times, want 0", renderer.calls)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "already done" {
		t.Errorf("sent = %v", sender.sent)
	}
}

func TestDispatch_RenderFailureSendsNothing(t *testing.T) {
	sender := &mockSender{}
	d, _ := New(&mockRenderer{failOn: "two"}, sender)

	seq := "seq-1"
	unit := unitOf(
		models.QueuedMessage{ID: "m1", UserID: "user-1", Payload: "one", SequenceID: &seq},
		models.QueuedMessage{ID: "m2", UserID: "user-1", Payload: "two", SequenceID: &seq},
	)

	err := d.Dispatch(context.Background(), unit)
	if err == nil {
		t.Fatal("expected render error")
	}
	if !strings.Contains(err.Error(), "render part 2") {
		t.Errorf("error = %q, want to name the failing part", err.Error())
	}
	// All parts render before the first send, so nothing went out.
	if len(sender.sent) != 0 {
		t.Errorf("sent %d parts despite render failure, want 0", len(sender.sent))
	}
}

func TestDispatch_SendFailureFailsUnit(t *testing.T) {
	sender := &mockSender{failOn: "rendered:two"}
	d, _ := New(&mockRenderer{}, sender)

	seq := "seq-1"
	unit := unitOf(
		models.QueuedMessage{ID: "m1", UserID: "user-1", Payload: "one", SequenceID: &seq},
		models.QueuedMessage{ID: "m2", UserID: "user-1", Payload: "two", SequenceID: &seq},
	)

	err := d.Dispatch(context.Background(), unit)
	if err == nil {
		t.Fatal("expected send error")
	}
	if !strings.Contains(err.Error(), "send part 2") {
		t.Errorf("error = %q, want to name the failing part", err.Error())
	}
}

func TestPayloadTextRenderer(t *testing.T) {
	r := PayloadTextRenderer{}

	text, err := r.RenderText(context.Background(), `{"text":"hello"}`)
	if err != nil {
		t.Fatalf("RenderText() error: %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q, want hello", text)
	}

	if _, err := r.RenderText(context.Background(), `not json`); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := r.RenderText(context.Background(), `{"other":"field"}`); err == nil {
		t.Error("expected error for payload without text")
	}
}

func TestWebhookSender(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewWebhookSender(srv.URL, 0)
	if err != nil {
		t.Fatalf("NewWebhookSender() error: %v", err)
	}
	if err := s.Send(context.Background(), "user-1", "hi there"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !strings.Contains(gotBody, `"userId":"user-1"`) || !strings.Contains(gotBody, `"text":"hi there"`) {
		t.Errorf("body = %q", gotBody)
	}
}

func TestWebhookSender_Non2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s, _ := NewWebhookSender(srv.URL, 0)
	err := s.Send(context.Background(), "user-1", "hi")
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "status 502") {
		t.Errorf("error = %q, want to contain status", err.Error())
	}
}

func TestNewWebhookSender_RequiresURL(t *testing.T) {
	if _, err := NewWebhookSender("", 0); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
