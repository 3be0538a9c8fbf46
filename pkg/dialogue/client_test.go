package dialogue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/srtp-lab/voicelink/pkg/errorsx"
)

func TestClientRespond(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if in.Text != "hello" {
			t.Errorf("text = %q, want hello", in.Text)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "hi there"})
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, Token: "tok"})
	reply, err := c.Respond(context.Background(), "hello")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply != "hi there" {
		t.Fatalf("reply = %q, want %q", reply, "hi there")
	}
}

func TestClientRespondServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL})
	_, err := c.Respond(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !errorsx.HasReason(err, errorsx.ReasonDialogueFailed) {
		t.Fatalf("reason = %v, want dialogue_failed", err)
	}
}
