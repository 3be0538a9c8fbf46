package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/srtp-lab/voicelink/pkg/errorsx"
)

func TestEnsureClientIDIsStable(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}

	first, err := store.EnsureClientID()
	if err != nil {
		t.Fatalf("ensure error: %v", err)
	}
	if first == "" {
		t.Fatalf("expected minted client id")
	}
	second, _ := store.EnsureClientID()
	if second != first {
		t.Fatalf("client id changed within one session: %s vs %s", first, second)
	}

	// A new store over the same directory must see the same id.
	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	third, _ := reopened.EnsureClientID()
	if third != first {
		t.Fatalf("client id did not survive reload: %s vs %s", first, third)
	}
}

func TestClearDiscardsIdentity(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	first, _ := store.EnsureClientID()
	_ = store.SetUsername("mina")

	if err := store.Clear(); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	if got := store.Current(); got.ClientID != "" || got.Username != "" {
		t.Fatalf("expected empty identity after clear, got %+v", got)
	}

	next, _ := store.EnsureClientID()
	if next == first {
		t.Fatalf("expected fresh client id after logout")
	}
}

func TestRegistrarSurfacesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"detail":"username already taken"}`))
	}))
	defer srv.Close()

	reg := NewRegistrar(srv.URL)
	err := reg.Register(context.Background(), "mina")
	if err == nil {
		t.Fatalf("expected registration error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonRegisterFailed) {
		t.Fatalf("expected register_failed reason, got %s", errorsx.Reason(err))
	}
	if err.Error() != "username already taken" {
		t.Fatalf("expected backend detail, got %q", err.Error())
	}
}

func TestRegistrarSuccess(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	reg := NewRegistrar(srv.URL)
	if err := reg.Register(context.Background(), "  mina  "); err != nil {
		t.Fatalf("register error: %v", err)
	}
	if gotBody != `{"username":"mina"}` {
		t.Fatalf("unexpected body %q", gotBody)
	}
}

func TestRegistrarRejectsBlankUsername(t *testing.T) {
	reg := NewRegistrar("http://127.0.0.1:0")
	if err := reg.Register(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for blank username")
	}
}
