package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Frame is the chat bridge message envelope.
type Frame struct {
	Type string `json:"type"` // message, typing, error
	Text string `json:"text,omitempty"`
}

// WebSocketConfig configures a WebSocketSource.
type WebSocketConfig struct {
	URL          string
	Token        string // sent as a bearer token when set
	ReplyTimeout time.Duration
	Logger       zerolog.Logger
}

// WebSocketSource asks a chatbot over a websocket. The connection is dialed
// lazily and redialed after a failure.
type WebSocketSource struct {
	url     string
	header  http.Header
	timeout time.Duration
	dialer  *websocket.Dialer
	logger  zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketSource creates a websocket-backed source.
func NewWebSocketSource(cfg WebSocketConfig) *WebSocketSource {
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	timeout := cfg.ReplyTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &WebSocketSource{
		url:     cfg.URL,
		header:  header,
		timeout: timeout,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  cfg.Logger.With().Str("component", "knowledge_source").Logger(),
	}
}

// Ask sends text and waits for the first message frame in reply.
func (s *WebSocketSource) Ask(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.connect(ctx)
	if err != nil {
		return "", err
	}

	reply, err := s.roundTrip(ctx, conn, text)
	if err != nil {
		s.dropLocked()
		return "", err
	}
	return reply, nil
}

func (s *WebSocketSource) connect(ctx context.Context) (*websocket.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial knowledge source (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial knowledge source: %w", err)
	}
	s.logger.Debug().Msg("Knowledge source connected")
	s.conn = conn
	return conn, nil
}

func (s *WebSocketSource) roundTrip(ctx context.Context, conn *websocket.Conn, text string) (string, error) {
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return "", err
	}
	if err := conn.WriteJSON(Frame{Type: "message", Text: text}); err != nil {
		return "", fmt.Errorf("failed to send query: %w", err)
	}

	// Unblock the read when ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("failed to read reply: %w", err)
		}
		switch frame.Type {
		case "message":
			return frame.Text, nil
		case "error":
			return "", errors.New("knowledge source error: " + frame.Text)
		default:
			s.logger.Debug().Str("type", frame.Type).Msg("Skipping frame")
		}
	}
}

func (s *WebSocketSource) dropLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Close closes the connection, if open.
func (s *WebSocketSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := s.conn.Close()
	s.conn = nil
	return err
}
