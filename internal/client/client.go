// Package client is a Go client for the cowork HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opencode-ai/cowork/pkg/types"
)

// Frame is one server event as received over the wire.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SessionID extracts payload.sessionId, or "" for global events.
func (f Frame) SessionID() string {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.Unmarshal(f.Payload, &p)
	return p.SessionID
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client talks to one cowork server.
type Client struct {
	baseURL string
	http    *http.Client

	// MaxReconnectInterval caps the delay between event stream reconnects.
	MaxReconnectInterval time.Duration
}

// New returns a client for baseURL, e.g. http://127.0.0.1:4096.
func New(baseURL string) *Client {
	return &Client{
		baseURL:              strings.TrimRight(baseURL, "/"),
		http:                 &http.Client{},
		MaxReconnectInterval: 10 * time.Second,
	}
}

// Send posts a command. The returned body is the server's acknowledgement.
func (c *Client) Send(ctx context.Context, cmd types.Command) (json.RawMessage, error) {
	body, err := types.EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/command", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out json.RawMessage
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Start creates a session and returns it as acknowledged by the server.
func (c *Client) Start(ctx context.Context, cmd types.StartSession) (types.SessionInfo, error) {
	raw, err := c.Send(ctx, cmd)
	if err != nil {
		return types.SessionInfo{}, err
	}
	var info types.SessionInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return types.SessionInfo{}, fmt.Errorf("decode session: %w", err)
	}
	return info, nil
}

// Sessions lists sessions, most recent first.
func (c *Client) Sessions(ctx context.Context) ([]types.SessionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/session", nil)
	if err != nil {
		return nil, err
	}
	var out []types.SessionInfo
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode}
		var body struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil {
			apiErr.Code = body.Error.Code
			apiErr.Message = body.Error.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Events streams server events to fn until ctx is done, reconnecting with
// exponential backoff when the stream drops. sessionID, when set, limits the
// stream to that session and global events. onConnect, if not nil, runs after
// every successful (re)connect.
func (c *Client) Events(ctx context.Context, sessionID string, onConnect func(), fn func(Frame)) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = c.MaxReconnectInterval
	b.InitialInterval = min(b.InitialInterval, c.MaxReconnectInterval)
	b.MaxElapsedTime = 0

	op := func() error {
		err := c.stream(ctx, sessionID, func() {
			b.Reset()
			if onConnect != nil {
				onConnect()
			}
		}, fn)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status/100 == 4 {
			return backoff.Permanent(err)
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Client) stream(ctx context.Context, sessionID string, onConnect func(), fn func(Frame)) error {
	u := c.baseURL + "/event"
	if sessionID != "" {
		u += "?sessionId=" + url.QueryEscape(sessionID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode}
	}
	onConnect()
	return ReadFrames(resp.Body, fn)
}

// ReadFrames decodes SSE data lines from r. Comments, event names and lines
// that are not JSON frames are skipped.
func ReadFrames(r io.Reader, fn func(Frame)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var f Frame
		if err := json.Unmarshal([]byte(data), &f); err != nil || f.Type == "" {
			continue
		}
		fn(f)
	}
	return scanner.Err()
}
