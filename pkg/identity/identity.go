package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Identity is the stable client identity used for channel registration.
// ClientID is minted once and survives reconnects and process restarts;
// it is discarded only on a full logout.
type Identity struct {
	ClientID string `json:"client_id"`
	Username string `json:"username"`
}

// Store persists the identity as a small JSON file under a state
// directory. All accessors are safe for concurrent use.
type Store struct {
	path string

	mu  sync.Mutex
	cur Identity
}

// NewStore opens (or initializes) the identity store at dir/identity.json.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "voicelink")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	s := &Store{path: filepath.Join(dir, "identity.json")}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns a copy of the stored identity.
func (s *Store) Current() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// EnsureClientID returns the persisted client id, minting one if none
// exists yet. The minted id is written through immediately.
func (s *Store) EnsureClientID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.ClientID != "" {
		return s.cur.ClientID, nil
	}
	s.cur.ClientID = uuid.NewString()
	if err := s.save(); err != nil {
		return "", err
	}
	return s.cur.ClientID, nil
}

// SetUsername records the logged-in username.
func (s *Store) SetUsername(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Username = username
	return s.save()
}

// Clear wipes the identity. Used on full logout: the next login mints a
// fresh client id.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = Identity{}
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, &s.cur)
}

func (s *Store) save() error {
	raw, err := json.MarshalIndent(s.cur, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}
