package stratum

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreminer/kawpowd/log"
)

// State is a Session's connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticated
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transport is anything that can frame line-delimited JSON-RPC messages.
// net.Conn satisfies it directly; wstransport.go adapts a websocket
// connection to the same shape.
type Transport interface {
	net.Conn
}

// Dialer opens a Transport to a pool endpoint.
type Dialer func(ctx context.Context, addr string) (Transport, error)

// TCPDialer is the default Dialer, a plain TCP connection. Endpoints with
// the stratum+tcp:// and stratum+ssl:// schemes both use it; no TLS layer is
// applied for stratum+ssl://.
func TCPDialer(ctx context.Context, addr string) (Transport, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// SessionConfig parameterizes a Session.
type SessionConfig struct {
	Addr                  string
	ConnectTimeout        time.Duration
	ResponseTimeout       time.Duration
	MaxReconnectAttempts  uint32
	ReconnectBackoff      time.Duration
	MaxReconnectBackoff   time.Duration
}

// DefaultSessionConfig mirrors the teacher-adjacent connection defaults.
func DefaultSessionConfig(addr string) SessionConfig {
	return SessionConfig{
		Addr:                 addr,
		ConnectTimeout:       5 * time.Second,
		ResponseTimeout:      10 * time.Second,
		MaxReconnectAttempts: 10,
		ReconnectBackoff:     time.Second,
		MaxReconnectBackoff:  30 * time.Second,
	}
}

// Session owns one pool connection: line framing, request/response
// correlation by ID, and a notification channel for mining.notify /
// mining.set_difficulty / client.reconnect / client.show_message.
// Grounded on StratumConnection's read/write task split.
type Session struct {
	cfg    SessionConfig
	dial   Dialer
	stateMu sync.RWMutex
	state   State

	connMu sync.Mutex
	conn   Transport

	pendingMu sync.Mutex
	pending   map[string]chan Response

	notifications chan Notification

	nextID uint64
	abort  chan struct{}
	wg     sync.WaitGroup

	log *log.Logger
}

// NewSession constructs a Session. Call Connect to establish the
// underlying transport before sending requests.
func NewSession(cfg SessionConfig, dial Dialer) *Session {
	if dial == nil {
		dial = TCPDialer
	}
	return &Session{
		cfg:           cfg,
		dial:          dial,
		pending:       make(map[string]chan Response),
		notifications: make(chan Notification, 64),
		log:           log.Root().With("component", "stratum", "addr", cfg.Addr),
	}
}

// Notifications returns the channel pool-initiated notifications arrive
// on.
func (s *Session) Notifications() <-chan Notification { return s.notifications }

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// State returns the session's current connection state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Connect dials the pool and starts the read loop. The read loop closes
// the Notifications channel when it exits, so a Session is not reconnected
// by calling Connect again after its read loop has ended.
func (s *Session) Connect(ctx context.Context) error {
	s.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	conn, err := s.dial(dialCtx, s.cfg.Addr)
	if err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("stratum: connect: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.abort = make(chan struct{})
	s.setState(StateConnected)

	s.log.Info("connected")
	s.wg.Add(1)
	go s.readLoop(conn, s.abort)

	return nil
}

// readLoop is the goroutine-per-connection worker: it scans lines off the
// wire, dispatches responses to whichever SendRequest call is waiting,
// and forwards everything else to Notifications. It exits when the
// connection errors or abort is closed, mirroring the abort-channel
// pattern the keccak sealer uses for its per-thread workers.
func (s *Session) readLoop(conn Transport, abort chan struct{}) {
	defer s.wg.Done()
	defer func() {
		s.setState(StateDisconnected)
		close(s.notifications)
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)

	for scanner.Scan() {
		select {
		case <-abort:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err == nil && resp.ID != nil {
			key := string(*resp.ID)
			s.pendingMu.Lock()
			ch, ok := s.pending[key]
			if ok {
				delete(s.pending, key)
			}
			s.pendingMu.Unlock()
			if ok {
				ch <- resp
				continue
			}
		}

		var note Notification
		if err := json.Unmarshal(line, &note); err == nil && note.Method != "" {
			select {
			case s.notifications <- note:
			case <-abort:
				return
			}
			continue
		}

		s.log.Warn("failed to parse message", "line", string(line))
	}

	if err := scanner.Err(); err != nil {
		s.log.Error("read error", "err", err)
	}
}

// SendRequest writes req to the wire and blocks for its response (or
// returns immediately for a nil-ID notification-style request).
func (s *Session) SendRequest(req Request) (*Response, error) {
	if s.State() != StateConnected && s.State() != StateAuthenticated {
		return nil, fmt.Errorf("stratum: not connected")
	}

	var waiter chan Response
	var key string
	if req.ID != nil {
		key = string(*req.ID)
		waiter = make(chan Response, 1)
		s.pendingMu.Lock()
		s.pending[key] = waiter
		s.pendingMu.Unlock()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("stratum: encode request: %w", err)
	}
	payload = append(payload, '\n')

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("stratum: not connected")
	}

	s.log.Debug("sending", "method", req.Method)
	if _, err := conn.Write(payload); err != nil {
		if waiter != nil {
			s.pendingMu.Lock()
			delete(s.pending, key)
			s.pendingMu.Unlock()
		}
		return nil, fmt.Errorf("stratum: write: %w", err)
	}

	if waiter == nil {
		return &Response{}, nil
	}

	select {
	case resp := <-waiter:
		return &resp, nil
	case <-time.After(s.cfg.ResponseTimeout):
		s.pendingMu.Lock()
		delete(s.pending, key)
		s.pendingMu.Unlock()
		return nil, fmt.Errorf("stratum: response timeout for %s", req.Method)
	}
}

// NextRequestID returns a monotonically increasing ID for outbound
// requests.
func (s *Session) NextRequestID() int {
	return int(atomic.AddUint64(&s.nextID, 1))
}

// SetAuthenticated flips between Connected and Authenticated.
func (s *Session) SetAuthenticated(ok bool) {
	if ok {
		s.setState(StateAuthenticated)
	} else {
		s.setState(StateConnected)
	}
}

// IsConnected reports whether the session is usable for requests.
func (s *Session) IsConnected() bool {
	st := s.State()
	return st == StateConnected || st == StateAuthenticated
}

// Close tears down the transport and stops the read loop.
func (s *Session) Close() error {
	s.setState(StateDisconnected)

	if s.abort != nil {
		select {
		case <-s.abort:
		default:
			close(s.abort)
		}
	}

	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()

	s.pendingMu.Lock()
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()

	return err
}
