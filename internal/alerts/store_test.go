package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func definitionIDs(defs []Definition) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.ID)
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	for _, d := range []Definition{
		{ID: "a", Symbol: "BTC/USDT"},
		{ID: "b", Symbol: "ETH/USDT"},
		{ID: "c", Symbol: "BTC/USDT"},
	} {
		if err := s.Add(d); err != nil {
			t.Fatalf("Add(%s) error = %v", d.ID, err)
		}
	}
	if err := s.Add(Definition{ID: "a", Symbol: "SOL/USDT"}); !errors.Is(err, ErrDuplicateDefinition) {
		t.Errorf("duplicate Add() error = %v, want ErrDuplicateDefinition", err)
	}

	if got := definitionIDs(s.List()); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("List() = %v", got)
	}
	if got := definitionIDs(s.ListBySymbol("BTC/USDT")); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("ListBySymbol(BTC/USDT) = %v", got)
	}
	if got := s.ListBySymbol("DOGE/USDT"); len(got) != 0 {
		t.Errorf("ListBySymbol(DOGE/USDT) = %v, want empty", got)
	}

	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove(a) error = %v", err)
	}
	if err := s.Remove("a"); !errors.Is(err, ErrDefinitionNotFound) {
		t.Errorf("second Remove(a) error = %v, want ErrDefinitionNotFound", err)
	}
	if got := definitionIDs(s.List()); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("List() after remove = %v", got)
	}

	// List returns a copy
	list := s.List()
	list[0].ID = "mutated"
	if got := s.List()[0].ID; got != "b" {
		t.Errorf("store mutated through List(): first id = %q", got)
	}
}

func TestInbox(t *testing.T) {
	in := NewInbox()
	in.Present()
	if got := in.List(); len(got) != 0 {
		t.Fatalf("empty inbox List() = %v", got)
	}

	in.Present(TriggeredAlert{ID: "1", DefinitionID: "a"}, TriggeredAlert{ID: "2", DefinitionID: "b"})
	in.Present(TriggeredAlert{ID: "3", DefinitionID: "c"})
	if got := len(in.List()); got != 3 {
		t.Fatalf("List() has %d alerts, want 3", got)
	}

	got, err := in.Dismiss("2")
	if err != nil {
		t.Fatalf("Dismiss(2) error = %v", err)
	}
	if got.DefinitionID != "b" {
		t.Errorf("dismissed definition = %q, want b", got.DefinitionID)
	}

	if _, err := in.Dismiss("2"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("second Dismiss(2) error = %v, want ErrAlertNotFound", err)
	}

	live := in.List()
	if len(live) != 2 || live[0].ID != "1" || live[1].ID != "3" {
		t.Errorf("live after dismiss = %+v", live)
	}
}

func TestNotifierSendAlert(t *testing.T) {
	var hits atomic.Int32
	var body map[string]interface{}
	var contentType string

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		contentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	n := NewNotifier([]string{ok.URL, failing.URL}, zerolog.Nop())
	if !n.Enabled() {
		t.Fatal("notifier with webhooks should be enabled")
	}

	alert := TriggeredAlert{
		ID:           "t1",
		DefinitionID: "d1",
		Kind:         KindPrice,
		Symbol:       "BTC/USDT",
		Message:      "BTC/USDT price crossed below 115000",
		OccurredAt:   fixedNow,
	}

	if failed := n.SendAlert(context.Background(), alert); failed != 1 {
		t.Errorf("SendAlert() failed = %d, want 1", failed)
	}
	if hits.Load() != 1 {
		t.Errorf("webhook hits = %d, want 1", hits.Load())
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}

	embeds, _ := body["embeds"].([]interface{})
	if len(embeds) != 1 {
		t.Fatalf("embeds = %v", body["embeds"])
	}
	embed := embeds[0].(map[string]interface{})
	if embed["description"] != alert.Message {
		t.Errorf("description = %v, want %q", embed["description"], alert.Message)
	}
	if title, _ := embed["title"].(string); !strings.Contains(title, "BTC/USDT") {
		t.Errorf("title = %q, want symbol", title)
	}
}

func TestNotifierDisabled(t *testing.T) {
	n := NewNotifier(nil, zerolog.Nop())
	if n.Enabled() {
		t.Error("notifier without webhooks should be disabled")
	}
	if failed := n.SendAlert(context.Background(), TriggeredAlert{}); failed != 0 {
		t.Errorf("SendAlert() failed = %d, want 0", failed)
	}
}
