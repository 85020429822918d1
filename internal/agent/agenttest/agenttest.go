// Package agenttest provides a scripted agent for tests.
package agenttest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/opencode-ai/cowork/internal/agent"
	"github.com/opencode-ai/cowork/pkg/types"
)

// Send delivers one raw stream-json line to the consumer.
type Send func(raw string) error

// Script plays one turn. Returning nil ends the stream with io.EOF.
type Script func(ctx context.Context, req agent.Request, send Send) error

// Fake is an agent.Agent that plays queued scripts, one per Query.
type Fake struct {
	// Err, when set, is returned by Query instead of starting a turn.
	Err error

	mu       sync.Mutex
	scripts  []Script
	requests []agent.Request
}

// New returns a fake that will play scripts in order.
func New(scripts ...Script) *Fake {
	return &Fake{scripts: scripts}
}

// Push queues another script.
func (f *Fake) Push(s Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, s)
}

// Requests returns the requests seen so far.
func (f *Fake) Requests() []agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Request(nil), f.requests...)
}

func (f *Fake) Query(ctx context.Context, req agent.Request) (agent.Stream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	if f.Err != nil {
		f.mu.Unlock()
		return nil, f.Err
	}
	if len(f.scripts) == 0 {
		f.mu.Unlock()
		return nil, errors.New("agenttest: no script queued")
	}
	script := f.scripts[0]
	f.scripts = f.scripts[1:]
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s := &stream{cancel: cancel, msgs: make(chan types.StreamMessage), done: make(chan struct{})}
	send := func(raw string) error {
		msg, err := types.ParseStreamMessage([]byte(raw))
		if err != nil {
			return err
		}
		select {
		case s.msgs <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	go func() {
		defer close(s.done)
		defer close(s.msgs)
		err := script(ctx, req, send)
		switch {
		case ctx.Err() != nil:
			s.err = context.Canceled
		case err == nil:
			s.err = io.EOF
		default:
			s.err = err
		}
	}()
	return s, nil
}

type stream struct {
	cancel context.CancelFunc
	msgs   chan types.StreamMessage
	done   chan struct{}
	err    error
}

func (s *stream) Next(ctx context.Context) (types.StreamMessage, error) {
	select {
	case msg, ok := <-s.msgs:
		if !ok {
			return types.StreamMessage{}, s.err
		}
		return msg, nil
	case <-ctx.Done():
		return types.StreamMessage{}, ctx.Err()
	}
}

func (s *stream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// Reply sends lines and ends the turn.
func Reply(lines ...string) Script {
	return func(_ context.Context, _ agent.Request, send Send) error {
		for _, l := range lines {
			if err := send(l); err != nil {
				return err
			}
		}
		return nil
	}
}

// Hang sends lines and then blocks until the turn is cancelled.
func Hang(lines ...string) Script {
	return func(ctx context.Context, req agent.Request, send Send) error {
		if err := Reply(lines...)(ctx, req, send); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}
}

// Fail sends lines and ends the turn with err.
func Fail(err error, lines ...string) Script {
	return func(ctx context.Context, req agent.Request, send Send) error {
		if e := Reply(lines...)(ctx, req, send); e != nil {
			return e
		}
		return err
	}
}

// Ask requests approval for tool, reports the decision on decided, then
// sends lines.
func Ask(tool string, input string, decided chan<- types.PermissionResult, lines ...string) Script {
	return func(ctx context.Context, req agent.Request, send Send) error {
		res, err := req.CanUseTool(ctx, tool, json.RawMessage(input))
		if err != nil {
			return err
		}
		if decided != nil {
			decided <- res
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return Reply(lines...)(ctx, req, send)
	}
}

// Init is a system/init line carrying the resume id.
func Init(resumeID string) string {
	return fmt.Sprintf(`{"type":"system","subtype":"init","session_id":%q}`, resumeID)
}

// Text is an assistant line with one text block.
func Text(text string) string {
	return fmt.Sprintf(`{"type":"assistant","message":{"content":[{"type":"text","text":%q}]}}`, text)
}

// ToolUse is an assistant line with one tool_use block.
func ToolUse(id, name, input string) string {
	return fmt.Sprintf(`{"type":"assistant","message":{"content":[{"type":"tool_use","id":%q,"name":%q,"input":%s}]}}`, id, name, input)
}

// ToolResult is a user line with one tool_result block.
func ToolResult(id string, isError bool) string {
	return fmt.Sprintf(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":%q,"is_error":%t,"content":"ok"}]}}`, id, isError)
}

// Partial is a stream_event line.
func Partial(text string) string {
	return fmt.Sprintf(`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":%q}}}`, text)
}

// Result is a terminal result line.
func Result(success bool) string {
	if success {
		return `{"type":"result","subtype":"success","is_error":false,"result":"done"}`
	}
	return `{"type":"result","subtype":"error_during_execution","is_error":true}`
}
