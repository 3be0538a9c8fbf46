package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/srtp-lab/voicelink/pkg/errorsx"
)

// Registrar announces a username to the backend before the session
// channel is opened. The backend replies non-2xx with a JSON `detail`
// field when the name is rejected; that detail is the user-facing error.
type Registrar struct {
	Endpoint string
	Client   *http.Client
}

func NewRegistrar(endpoint string) *Registrar {
	return &Registrar{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Registrar) Register(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errorsx.New(errorsx.ReasonRegisterFailed, "username is required")
	}

	body, err := json.Marshal(map[string]string{"username": username})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonRegisterFailed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(body))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonRegisterFailed)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client().Do(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonRegisterFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var payload struct {
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Detail != "" {
		return errorsx.New(errorsx.ReasonRegisterFailed, payload.Detail)
	}
	return errorsx.New(errorsx.ReasonRegisterFailed, fmt.Sprintf("register: status %d", resp.StatusCode))
}

func (r *Registrar) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}
