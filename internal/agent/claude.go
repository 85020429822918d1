package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/cowork/internal/logging"
	"github.com/opencode-ai/cowork/pkg/types"
)

const (
	// DefaultCommand is the executable started when ClaudeCLI.Command is empty.
	DefaultCommand = "claude"

	maxLineSize = 1024 * 1024
	stderrTail  = 4096
	waitDelay   = 2 * time.Second
)

var baseArgs = []string{
	"--verbose",
	"--output-format", "stream-json",
	"--input-format", "stream-json",
	"--include-partial-messages",
	"--permission-prompt-tool", "stdio",
}

// ClaudeCLI runs turns through the Claude Code command line tool.
type ClaudeCLI struct {
	// Command is the executable name or path. Defaults to DefaultCommand.
	Command string
	// Args are appended after the protocol flags.
	Args []string
	// Credentials is consulted at the start of every turn.
	Credentials func() (Credentials, bool)
}

func (c *ClaudeCLI) command() string {
	if c.Command == "" {
		return DefaultCommand
	}
	return c.Command
}

func (c *ClaudeCLI) args(req Request) []string {
	args := append([]string(nil), baseArgs...)
	if req.ResumeID != "" {
		args = append(args, "--resume", req.ResumeID)
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	return append(args, c.Args...)
}

// Query starts the agent process for one turn.
func (c *ClaudeCLI) Query(ctx context.Context, req Request) (Stream, error) {
	if c.Credentials == nil {
		return nil, ErrConfigMissing
	}
	creds, ok := c.Credentials()
	if !ok || !creds.Valid() {
		return nil, ErrConfigMissing
	}
	path, err := exec.LookPath(c.command())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigMissing, err)
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, path, c.args(req)...)
	cmd.Dir = req.Cwd
	cmd.Env = append(os.Environ(), creds.Env()...)
	cmd.Env = append(cmd.Env, envList(req.Env)...)
	cmd.WaitDelay = waitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	tail := &tailBuffer{max: stderrTail}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	s := &cliStream{
		cmd:        cmd,
		ctx:        procCtx,
		cancel:     cancel,
		stdin:      stdin,
		stderr:     tail,
		canUseTool: req.CanUseTool,
		msgs:       make(chan types.StreamMessage),
		done:       make(chan struct{}),
		log:        logging.Component("agent"),
	}
	go s.read(stdout)

	if err := s.send(controlRequest{Type: "control_request", RequestID: "req_init", Request: map[string]string{"subtype": "initialize"}}); err != nil {
		s.Close()
		return nil, fmt.Errorf("initialize agent: %w", err)
	}
	if err := s.send(userMessage{
		Type:    "user",
		Message: userContent{Role: "user", Content: req.Prompt},
	}); err != nil {
		s.Close()
		return nil, fmt.Errorf("send prompt: %w", err)
	}
	return s, nil
}

type controlRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Request   any    `json:"request"`
}

type userContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type userMessage struct {
	Type            string      `json:"type"`
	Message         userContent `json:"message"`
	ParentToolUseID *string     `json:"parent_tool_use_id"`
	SessionID       string      `json:"session_id"`
}

type controlResponse struct {
	Type     string              `json:"type"`
	Response controlResponseBody `json:"response"`
}

type controlResponseBody struct {
	Subtype   string `json:"subtype"`
	RequestID string `json:"request_id"`
	Response  any    `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
}

// envelope is the subset of an output line needed to route it.
type envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Request   json.RawMessage `json:"request"`
}

type toolRequest struct {
	Subtype  string          `json:"subtype"`
	ToolName string          `json:"tool_name"`
	Input    json.RawMessage `json:"input"`
}

type cliStream struct {
	cmd        *exec.Cmd
	ctx        context.Context
	cancel     context.CancelFunc
	stderr     *tailBuffer
	canUseTool CanUseTool
	log        zerolog.Logger

	writeMu     sync.Mutex
	stdin       io.WriteCloser
	stdinClosed bool

	msgs chan types.StreamMessage
	done chan struct{}
	err  error

	closeOnce sync.Once
}

func (s *cliStream) Next(ctx context.Context) (types.StreamMessage, error) {
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

// Close kills the process if it is still running and waits for the reader.
func (s *cliStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeStdin()
	})
	<-s.done
	return nil
}

func (s *cliStream) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.stdinClosed {
		return io.ErrClosedPipe
	}
	_, err = s.stdin.Write(append(data, '\n'))
	return err
}

func (s *cliStream) closeStdin() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.stdinClosed {
		s.stdinClosed = true
		_ = s.stdin.Close()
	}
}

func (s *cliStream) read(stdout io.Reader) {
	defer close(s.done)
	defer close(s.msgs)

	var handlers sync.WaitGroup
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			s.log.Debug().Err(err).Msg("skipping non-JSON agent output")
			continue
		}
		switch env.Type {
		case "control_response":
			continue
		case "control_request":
			handlers.Add(1)
			go func() {
				defer handlers.Done()
				s.answer(env)
			}()
			continue
		}

		msg, err := types.ParseStreamMessage(append([]byte(nil), line...))
		if err != nil {
			s.log.Debug().Err(err).Msg("skipping malformed agent message")
			continue
		}
		select {
		case s.msgs <- msg:
		case <-s.ctx.Done():
		}
		if msg.IsResult() {
			s.closeStdin()
		}
	}
	scanErr := sc.Err()
	aborted := s.ctx.Err() != nil

	if scanErr != nil {
		s.cancel()
	}
	waitErr := s.cmd.Wait()
	aborted = aborted || (scanErr == nil && s.ctx.Err() != nil)
	// Unblock any approval still waiting on the callback.
	s.cancel()
	handlers.Wait()

	switch {
	case aborted && waitErr != nil:
		s.err = context.Canceled
	case scanErr != nil:
		s.err = fmt.Errorf("read agent output: %w", scanErr)
	case waitErr != nil:
		s.err = s.exitError(waitErr)
	default:
		s.err = io.EOF
	}
}

func (s *cliStream) exitError(err error) error {
	if tail := strings.TrimSpace(s.stderr.String()); tail != "" {
		return fmt.Errorf("agent exited: %w: %s", err, tail)
	}
	return fmt.Errorf("agent exited: %w", err)
}

func (s *cliStream) answer(env envelope) {
	var req toolRequest
	if err := json.Unmarshal(env.Request, &req); err != nil || req.Subtype != "can_use_tool" {
		_ = s.send(controlResponse{Type: "control_response", Response: controlResponseBody{
			Subtype:   "error",
			RequestID: env.RequestID,
			Error:     "unsupported control request",
		}})
		return
	}

	input := req.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	res := types.Allow(input)
	if s.canUseTool != nil {
		var err error
		res, err = s.canUseTool(s.ctx, req.ToolName, input)
		if err != nil {
			res = types.Deny(err.Error())
		}
	}
	if res.Allowed() && len(res.UpdatedInput) == 0 {
		res.UpdatedInput = input
	}

	if err := s.send(controlResponse{Type: "control_response", Response: controlResponseBody{
		Subtype:   "success",
		RequestID: env.RequestID,
		Response:  res,
	}}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		s.log.Warn().Err(err).Str("tool", req.ToolName).Msg("failed to answer tool request")
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
