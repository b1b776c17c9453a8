package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reportline/internal/config"
)

func TestSendCardPayload(t *testing.T) {
	var got cardPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Fatalf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New([]config.WebhookConfig{{URL: srv.URL}})
	delivered := s.Send(context.Background(), "report with ⚠️ Missing status update marker")
	if delivered != 1 {
		t.Fatalf("delivered = %d", delivered)
	}

	if len(got.Cards) != 1 || len(got.Cards[0].Sections) != 1 || len(got.Cards[0].Sections[0].Widgets) != 1 {
		t.Fatalf("payload shape: %+v", got)
	}
	text := got.Cards[0].Sections[0].Widgets[0].TextParagraph.Text
	if !strings.Contains(text, "⚠️ <b>Missing status update</b>") {
		t.Fatalf("missing-update marker not bolded: %s", text)
	}
}

func TestSendSkipsDisabledHooks(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	disabled := false
	s := New([]config.WebhookConfig{
		{URL: srv.URL, Enabled: &disabled},
		{URL: ""},
		{URL: srv.URL},
	})
	if delivered := s.Send(context.Background(), "body"); delivered != 1 {
		t.Fatalf("delivered = %d", delivered)
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestSendFailureIsBestEffort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := New([]config.WebhookConfig{{URL: srv.URL}})
	if delivered := s.Send(context.Background(), "body"); delivered != 0 {
		t.Fatalf("delivered = %d", delivered)
	}
}
