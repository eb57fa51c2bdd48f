// Package supervisor manages Command-kind agent child processes: spawning,
// the newline-framed line protocol on stdin/stdout, stderr forwarding, and
// graceful-then-forced shutdown. The scanner-based read loop and
// marshal-then-newline writer are grounded in the teacher's
// pkg/claudecode.Client, generalized from a single coding-agent session to
// many concurrently supervised children keyed by agent id.
package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mnemnk/runtime/internal/agent/instance"
	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/mnemnk/runtime/internal/common/logger"
	"go.uber.org/zap"
)

// maxLineBytes bounds the scanner's buffer, matching the teacher's 10MB cap
// for a single stdout line.
const maxLineBytes = 10 * 1024 * 1024

var (
	ErrUnknownChild   = errors.New("supervisor: unknown child")
	ErrAlreadyRunning = errors.New("supervisor: child already running")
)

// ExitHandler is invoked when a child exits on its own (not via Quit),
// letting the owning Command agent transition its status back to Init per
// spec.md §4.5.
type ExitHandler func(id string, err error)

// Spawner creates a ChildHandle for a Command agent's child process. The
// default is StartExec; NewDockerSpawner in this package returns one with
// the same signature for container-backed agents.
type Spawner func(ctx context.Context, cmdPath string, args []string, dir string, stderr *stderrForwarder) (ChildHandle, error)

// Supervisor owns the table of running child processes and the line
// protocol that ties them to the router.
type Supervisor struct {
	emitter instance.Emitter
	log     *logger.Logger
	spawn   Spawner
	onExit  ExitHandler

	mu       sync.Mutex
	children map[string]*child
}

type child struct {
	handle ChildHandle
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Supervisor. spawn defaults to a local os/exec-backed
// spawner when nil.
func New(emitter instance.Emitter, log *logger.Logger, spawn Spawner, onExit ExitHandler) *Supervisor {
	if log == nil {
		log = logger.Default()
	}
	if spawn == nil {
		spawn = defaultSpawner
	}
	return &Supervisor{
		emitter:  emitter,
		log:      log,
		spawn:    spawn,
		onExit:   onExit,
		children: make(map[string]*child),
	}
}

func defaultSpawner(ctx context.Context, cmdPath string, args []string, dir string, stderr *stderrForwarder) (ChildHandle, error) {
	return StartExec(ctx, cmdPath, args, dir, stderr)
}

// Start spawns cmdPath with args + ["-c", <json(mergedConfig)>] in dir for
// the given agent id, per spec.md §4.5, and begins the stdout read loop.
func (s *Supervisor) Start(id, cmdPath string, args []string, dir string, mergedConfig map[string]value.Value) error {
	s.mu.Lock()
	if _, exists := s.children[id]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	s.mu.Unlock()

	cfgJSON, err := marshalConfig(mergedConfig)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	fullArgs := append(append([]string{}, args...), "-c", cfgJSON)

	ctx, cancel := context.WithCancel(context.Background())
	stderr := &stderrForwarder{id: id, emitter: s.emitter, log: s.log}
	handle, err := s.spawn(ctx, cmdPath, fullArgs, dir, stderr)
	if err != nil {
		cancel()
		return fmt.Errorf("spawn: %w", err)
	}

	c := &child{handle: handle, cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.children[id] = c
	s.mu.Unlock()

	go s.readLoop(id, c)
	return nil
}

func marshalConfig(config map[string]value.Value) (string, error) {
	raw, err := encodeConfig(config)
	if err != nil {
		return "", err
	}
	// encodeConfig appends the ".CONFIG " prefix and trailing newline for
	// the wire format; the -c flag wants the bare JSON object.
	trimmed := bytes.TrimSuffix(bytes.TrimPrefix(raw, []byte(".CONFIG ")), []byte("\n"))
	return string(trimmed), nil
}

func (s *Supervisor) readLoop(id string, c *child) {
	defer close(c.done)

	scanner := bufio.NewScanner(c.handle.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		s.handleLine(id, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		s.log.Warn("supervisor: stdout scan error", zap.String("agent_id", id), zap.Error(err))
	}

	waitErr := c.handle.Wait()

	s.mu.Lock()
	delete(s.children, id)
	s.mu.Unlock()

	s.log.Info("supervisor: child exited", zap.String("agent_id", id), zap.Error(waitErr))
	if s.onExit != nil {
		s.onExit(id, waitErr)
	}
}

func (s *Supervisor) handleLine(id, line string) {
	p := parseLine(line)
	if !p.isCommand {
		s.log.Debug("supervisor: child debug output", zap.String("agent_id", id), zap.String("line", p.debugText))
		return
	}

	switch p.command {
	case "OUT":
		f, err := decodeOut(p.payload)
		if err != nil {
			s.log.Warn("supervisor: malformed .OUT frame", zap.String("agent_id", id), zap.Error(err))
			return
		}
		if err := s.emitter.TryEmit(id, f.Ch, f.Data); err != nil {
			s.emitter.EmitError(id, err)
		}
	case "STORE", "WRITE":
		kind, v, err := decodeLegacyKindValue(p.payload)
		if err != nil {
			s.log.Warn("supervisor: malformed legacy frame", zap.String("agent_id", id),
				zap.String("command", p.command), zap.Error(err))
			return
		}
		// Rewritten onto the $database pseudo-channel per spec.md §6's
		// pseudo-node id convention, rather than calling an EventSink
		// directly — keeping the supervisor decoupled from persistence.
		if err := s.emitter.TryEmit(id, "$database_out", value.New(kind, v)); err != nil {
			s.emitter.EmitError(id, err)
		}
	case "SUBSCRIBE", "READ":
		// Legacy shortcuts spec.md §9 explicitly allows omitting; logged
		// for visibility rather than silently dropped.
		s.log.Debug("supervisor: legacy command not supported", zap.String("agent_id", id), zap.String("command", p.command))
	default:
		s.log.Warn("supervisor: unknown child command", zap.String("agent_id", id), zap.String("command", p.command))
	}
}

// WriteIn writes a ".IN <json>\n" frame to id's stdin.
func (s *Supervisor) WriteIn(id string, actx value.Context, data value.Data) error {
	raw, err := encodeIn(actx, data)
	if err != nil {
		return err
	}
	return s.write(id, raw)
}

// WriteConfig writes a ".CONFIG <json>\n" frame to id's stdin.
func (s *Supervisor) WriteConfig(id string, config map[string]value.Value) error {
	raw, err := encodeConfig(config)
	if err != nil {
		return err
	}
	return s.write(id, raw)
}

// write serializes frames per child: the commands-table mutex is held
// across both the lookup and the stdin write, so frames from concurrent
// callers (Process, SetConfig, Stop, StopAll) never interleave.
func (s *Supervisor) write(id string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.children[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChild, id)
	}
	_, err := c.handle.Stdin().Write(raw)
	return err
}

// Quit writes ".QUIT\n" to id's stdin; it does not wait for exit.
func (s *Supervisor) Quit(id string) error {
	return s.write(id, encodeQuit())
}

// StopAll writes ".QUIT" to every running child, waits up to grace for them
// to exit on their own, then kills any residual children, per spec.md §4.5
// and §5's process-shutdown grace window.
func (s *Supervisor) StopAll(grace time.Duration) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.children))
	dones := make([]chan struct{}, 0, len(s.children))
	for id, c := range s.children {
		ids = append(ids, id)
		dones = append(dones, c.done)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Quit(id); err != nil {
			s.log.Warn("supervisor: quit write failed", zap.String("agent_id", id), zap.Error(err))
		}
	}

	// ctx.Done() is a closed channel once the timeout fires, so every
	// iteration below can safely read it again; a single time.After
	// channel would only ever deliver once and let later children block
	// past the grace window.
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	remaining := make([]*child, 0, len(s.children))
	for _, c := range s.children {
		remaining = append(remaining, c)
	}
	s.mu.Unlock()

	for _, c := range remaining {
		c.cancel()
		_ = c.handle.Kill()
	}
}

// stderrForwarder implements io.Writer, forwarding each stderr line to the
// UI as an error event on the owning agent, per spec.md §4.5.
type stderrForwarder struct {
	id      string
	emitter instance.Emitter
	log     *logger.Logger
	buf     bytes.Buffer
	mu      sync.Mutex
}

func (w *stderrForwarder) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		buffered := w.buf.Bytes()
		idx := bytes.IndexByte(buffered, '\n')
		if idx < 0 {
			break
		}
		line := append([]byte(nil), buffered[:idx]...)
		w.buf.Next(idx + 1)

		if len(line) == 0 {
			continue
		}
		w.log.Warn("supervisor: child stderr", zap.String("agent_id", w.id), zap.ByteString("line", line))
		if w.emitter != nil {
			w.emitter.EmitError(w.id, fmt.Errorf("%s", line))
		}
	}
	return len(p), nil
}
