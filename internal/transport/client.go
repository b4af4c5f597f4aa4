package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// The host part of request URLs is ignored; every request dials the socket.
const socketHost = "bgsvc"

// Client talks to a host over its unix socket.
type Client struct {
	socketPath string
	http       *http.Client
	dialer     *websocket.Dialer
}

// NewClient creates a client for the host listening on socketPath.
func NewClient(socketPath string) *Client {
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
	return &Client{
		socketPath: socketPath,
		http: &http.Client{
			Transport: &http.Transport{DialContext: dial},
			Timeout:   10 * time.Second,
		},
		dialer: &websocket.Dialer{
			NetDialContext:   dial,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Status fetches the supervisor snapshot.
func (c *Client) Status(ctx context.Context) (domain.StatusReport, error) {
	var report domain.StatusReport
	resp, err := c.do(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return report, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return report, fmt.Errorf("failed to decode status: %w", err)
	}
	return report, nil
}

// Invoke relays payload to the worker.
func (c *Client) Invoke(ctx context.Context, payload json.RawMessage) error {
	resp, err := c.do(ctx, http.MethodPost, "/invoke", payload)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Control sends a lifecycle action (start, stop, task-removed).
func (c *Client) Control(ctx context.Context, action string) error {
	resp, err := c.do(ctx, http.MethodPost, "/control/"+action, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Metrics returns the prometheus text exposition.
func (c *Client) Metrics(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/metrics", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metrics: %w", err)
	}
	return string(body), nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, "http://"+socketHost+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach host at %s: %w", c.socketPath, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// Attach binds a websocket client under id.
func (c *Client) Attach(ctx context.Context, id domain.ClientID) (*Attachment, error) {
	u := url.URL{Scheme: "ws", Host: socketHost, Path: "/bind", RawQuery: url.Values{"id": {string(id)}}.Encode()}
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to attach as %s: %w", id, err)
	}

	a := &Attachment{
		conn:     conn,
		messages: make(chan Message, 16),
		done:     make(chan struct{}),
	}
	go a.readLoop()
	return a, nil
}

// Attachment is one bound client.
type Attachment struct {
	conn     *websocket.Conn
	messages chan Message
	done     chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Messages yields frames from the host. It is closed when the connection ends.
func (a *Attachment) Messages() <-chan Message {
	return a.messages
}

// Send relays payload to the worker.
func (a *Attachment) Send(payload json.RawMessage) error {
	return a.write(Message{Type: MessageInvoke, Data: payload})
}

// Close unbinds and closes the connection.
func (a *Attachment) Close() error {
	var err error
	a.closeOnce.Do(func() {
		_ = a.write(Message{Type: MessageUnbind})
		a.writeMu.Lock()
		_ = a.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		a.writeMu.Unlock()
		close(a.done)
		err = a.conn.Close()
	})
	return err
}

func (a *Attachment) write(m Message) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return a.conn.WriteJSON(m)
}

func (a *Attachment) readLoop() {
	defer close(a.messages)
	for {
		var m Message
		if err := a.conn.ReadJSON(&m); err != nil {
			return
		}
		select {
		case a.messages <- m:
		case <-a.done:
			return
		}
	}
}
