package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/srtp-lab/voicelink/pkg/errorsx"
	"github.com/srtp-lab/voicelink/pkg/metrics"
	"github.com/srtp-lab/voicelink/pkg/notify"
	"github.com/srtp-lab/voicelink/pkg/resilience"
)

// State is the session channel connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Conn is the subset of the websocket connection the session uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc opens one websocket connection to the given URL.
type DialFunc func(ctx context.Context, rawURL string) (Conn, error)

func gorillaDial(ctx context.Context, rawURL string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Handler receives dispatched inbound messages.
type Handler struct {
	// OnInstruction receives voice_instruction content to be spoken.
	OnInstruction func(text string)
	// Notices receives ui_update and system pushes.
	Notices notify.Sink
	// OnClosed fires once when the session gives up for good, either by
	// manual close or by exhausting reconnect attempts.
	OnClosed func(reason string)
}

// Config configures the session channel.
type Config struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	Backoff   resilience.Backoff
	Dial      DialFunc
	Logger    *slog.Logger
	Observer  metrics.Observer
}

func (c Config) withDefaults() Config {
	if c.Heartbeat <= 0 {
		c.Heartbeat = 25 * time.Second
	}
	if c.Backoff.Base <= 0 || c.Backoff.MaxAttempts <= 0 {
		c.Backoff = resilience.NewBackoff(c.Backoff.Base, c.Backoff.MaxAttempts)
	}
	if c.Dial == nil {
		c.Dial = gorillaDial
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Observer == nil {
		c.Observer = metrics.NoopObserver{}
	}
	return c
}

// Session maintains the server push channel: it registers on every open,
// heartbeats while connected and reconnects with exponential backoff when
// the connection drops. The clientId never changes across reconnects.
type Session struct {
	cfg      Config
	username string
	clientID string
	handler  Handler

	mu      sync.Mutex
	state   State
	conn    Conn
	started bool
	closed  bool

	// Guards WriteMessage: gorilla connections support one writer at a
	// time, and heartbeats race user sends.
	writeMu sync.Mutex

	cancel     context.CancelFunc
	done       chan struct{}
	closedOnce sync.Once
}

func NewSession(cfg Config, username, clientID string, handler Handler) *Session {
	return &Session{
		cfg:      cfg.withDefaults(),
		username: username,
		clientID: clientID,
		handler:  handler,
		state:    StateDisconnected,
	}
}

// State reports the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ClientID reports the stable client identifier used on the wire.
func (s *Session) ClientID() string { return s.clientID }

// Connect starts the connection loop. It returns immediately; delivery
// begins once the first dial succeeds.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorsx.New(errorsx.ReasonChannelClosed, "session already closed")
	}
	if s.started {
		return nil
	}
	s.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(loopCtx)
	return nil
}

// Close tears the channel down for good. Any pending reconnect timer is
// cancelled and no further dial is attempted.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	conn := s.conn
	done := s.done
	started := s.started
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if started {
		<-done
	}
	s.setState(StateClosed)
	s.cfg.Logger.Info("channel_closed", slog.String("reason", "manual"))
	s.notifyClosed("manual")
}

func (s *Session) notifyClosed(reason string) {
	s.closedOnce.Do(func() {
		if s.handler.OnClosed != nil {
			s.handler.OnClosed(reason)
		}
	})
}

// Send writes a JSON message. It fails unless the channel is open.
func (s *Session) Send(v any) error {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()

	if state != StateOpen || conn == nil {
		return errorsx.New(errorsx.ReasonChannelUnavailable, "channel is not open")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonChannelSend)
	}
	if err := s.write(conn, data); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonChannelSend)
	}
	return nil
}

// write serializes all outbound frames onto the connection.
func (s *Session) write(conn Conn, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) endpointURL() string {
	u, err := url.Parse(s.cfg.Endpoint)
	if err != nil {
		return s.cfg.Endpoint + "/" + s.clientID
	}
	u.Path, _ = url.JoinPath(u.Path, s.clientID)
	return u.String()
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(StateConnecting)
		s.cfg.Logger.Info("channel_connecting",
			slog.String("client_id", s.clientID),
			slog.Int("attempt", attempts))

		conn, err := s.cfg.Dial(ctx, s.endpointURL())
		if err != nil {
			metrics.Failure(s.cfg.Observer, "channel", string(errorsx.ReasonChannelUnavailable), err)
			if !s.scheduleRetry(ctx, &attempts, err) {
				return
			}
			continue
		}

		if err := s.register(conn); err != nil {
			_ = conn.Close()
			if !s.scheduleRetry(ctx, &attempts, err) {
				return
			}
			continue
		}

		// Successful open resets the retry counter.
		attempts = 0
		s.mu.Lock()
		s.conn = conn
		s.state = StateOpen
		s.mu.Unlock()
		s.cfg.Logger.Info("channel_open", slog.String("client_id", s.clientID))

		readErr := s.serve(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		if !s.scheduleRetry(ctx, &attempts, readErr) {
			return
		}
	}
}

// scheduleRetry waits out the backoff delay before the next dial. It
// returns false when retries are exhausted or the session is shutting
// down; exhaustion transitions to Closed and notifies the handler once.
func (s *Session) scheduleRetry(ctx context.Context, attempts *int, cause error) bool {
	if s.cfg.Backoff.Exhausted(*attempts) {
		s.setState(StateClosed)
		s.cfg.Logger.Error("channel_gave_up",
			slog.Int("attempts", *attempts),
			slog.String("error", errString(cause)))
		metrics.Failure(s.cfg.Observer, "channel", string(errorsx.ReasonChannelClosed), cause)
		s.notifyClosed("reconnect_exhausted")
		return false
	}
	delay := s.cfg.Backoff.Delay(*attempts)
	*attempts++
	s.setState(StateReconnecting)
	s.cfg.Logger.Warn("channel_reconnecting",
		slog.Int("attempt", *attempts),
		slog.Duration("delay", delay),
		slog.String("error", errString(cause)))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) register(conn Conn) error {
	frame := newRegisterFrame(s.username, s.clientID)
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return s.write(conn, data)
}

// serve pumps heartbeats and inbound messages until the connection fails.
func (s *Session) serve(ctx context.Context, conn Conn) error {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go s.heartbeat(hbCtx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(data)
	}
}

func (s *Session) heartbeat(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := json.Marshal(newHeartbeatFrame())
			if err != nil {
				continue
			}
			if err := s.write(conn, data); err != nil {
				s.cfg.Logger.Warn("heartbeat_send_failed", slog.String("error", err.Error()))
				return
			}
			s.cfg.Logger.Debug("heartbeat_sent")
		}
	}
}

func (s *Session) dispatch(data []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.cfg.Logger.Warn("channel_bad_message", slog.String("error", err.Error()))
		return
	}
	switch msg.Type {
	case TypeVoiceInstruction:
		if s.handler.OnInstruction != nil {
			// Speaking an instruction blocks for the clip's duration;
			// never hold the read loop for it. Overlap is the player's
			// problem: it rejects a clip while one is playing.
			go s.handler.OnInstruction(msg.Content)
		}
	case TypeUIUpdate:
		if s.handler.Notices != nil {
			s.handler.Notices.Notice(TypeUIUpdate, string(msg.Payload))
		}
	case TypeSystem:
		if s.handler.Notices != nil {
			s.handler.Notices.Notice(TypeSystem, msg.Content)
		}
	case TypeHeartbeat:
		s.cfg.Logger.Debug("heartbeat_ack")
	default:
		s.cfg.Logger.Debug("channel_unknown_type", slog.String("type", msg.Type))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
