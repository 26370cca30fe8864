package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "DappBridge/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (n *recordingNotifier) Channel() Channel { return n.channel }

func (n *recordingNotifier) Notify(_ context.Context, event Event) error {
	n.events = append(n.events, event)
	return n.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	a := &recordingNotifier{channel: "a"}
	b := &recordingNotifier{channel: "b", err: errors.New("down")}
	d := NewFanout(a, b, nil)

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeUnknown, Message: "boom"})
	if err == nil || !strings.Contains(err.Error(), "channel b") {
		t.Fatalf("expected joined error from channel b, got %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both notifiers to receive the event")
	}
}

func TestEventFromError(t *testing.T) {
	err := xerrors.New(xerrors.CodeStorageFailure, "写入失败", xerrors.WithMetadata("table", "contract_calls"))
	ev := EventFromError(err, "s-1", "0xabc", "register")
	if ev.Code != xerrors.CodeStorageFailure || ev.Message != "写入失败" || ev.Metadata["table"] != "contract_calls" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.SessionID != "s-1" || ev.Account != "0xabc" || ev.Operation != "register" {
		t.Fatalf("unexpected context %+v", ev)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %s", r.Header.Get("Content-Type"))
		}
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- ev
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	if err := n.Notify(context.Background(), Event{Code: "ENDPOINT_UNREACHABLE", SessionID: "s-1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	ev := <-received
	if ev.Code != "ENDPOINT_UNREACHABLE" || ev.SessionID != "s-1" {
		t.Fatalf("unexpected payload %+v", ev)
	}
}

func TestWebhookNotifierReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), Event{}); err == nil {
		t.Fatal("expected error for 502 response")
	}
	if err := (&WebhookNotifier{}).Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unconfigured notifier should skip, got %v", err)
	}
}
