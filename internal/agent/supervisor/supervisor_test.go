package supervisor

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeChild is a ChildHandle over pipes, standing in for a real subprocess
// so the line protocol can be exercised without spawning one. stdin is an
// OS pipe, so writes are buffered as they are for a real child and return
// before the test reads them; stdout is an in-memory pipe.
type pipeChild struct {
	stdinR  *os.File
	stdinW  *os.File
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	mu     sync.Mutex
	exited bool
	exitCh chan struct{}
	killed bool
}

func newPipeChild() *pipeChild {
	inR, inW, err := os.Pipe()
	if err != nil {
		panic(err)
	}
	outR, outW := io.Pipe()
	return &pipeChild{stdinR: inR, stdinW: inW, stdoutR: outR, stdoutW: outW, exitCh: make(chan struct{})}
}

func (c *pipeChild) Stdin() io.Writer  { return c.stdinW }
func (c *pipeChild) Stdout() io.Reader { return c.stdoutR }
func (c *pipeChild) Wait() error {
	<-c.exitCh
	return nil
}
func (c *pipeChild) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killed = true
	c.markExited()
	return nil
}
func (c *pipeChild) markExited() {
	if !c.exited {
		c.exited = true
		_ = c.stdoutW.Close()
		close(c.exitCh)
	}
}
func (c *pipeChild) wasKilled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killed
}

// readStdinLine reads one newline-framed line the supervisor wrote to this
// child's stdin, simulating the child's own input loop.
func (c *pipeChild) readStdinLine(t *testing.T) string {
	t.Helper()
	r := bufio.NewReader(c.stdinR)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

type fakeEmitter struct {
	mu     sync.Mutex
	outs   []struct {
		id, ch string
		data   value.Data
	}
	errs []error
}

func (e *fakeEmitter) TryEmit(id, ch string, data value.Data) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outs = append(e.outs, struct {
		id, ch string
		data   value.Data
	}{id, ch, data})
	return nil
}
func (e *fakeEmitter) TryEmitBoardOut(boardName string, data value.Data) error { return nil }
func (e *fakeEmitter) EmitDisplay(id, key string, data value.Data)             {}
func (e *fakeEmitter) EmitError(id string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

func TestSubprocessRoundTrip(t *testing.T) {
	pc := newPipeChild()
	em := &fakeEmitter{}
	sup := New(em, nil, func(ctx context.Context, cmdPath string, args []string, dir string, stderr *stderrForwarder) (ChildHandle, error) {
		return pc, nil
	}, nil)

	require.NoError(t, sup.Start("agent1", "/bin/fake", nil, "", nil))

	require.NoError(t, sup.WriteIn("agent1", value.Context{Ch: "in"}, value.New("integer", value.Integer(7))))
	line := pc.readStdinLine(t)
	assert.True(t, strings.HasPrefix(line, ".IN "))
	assert.Contains(t, line, `"ch":"in"`)

	_, err := pc.stdoutW.Write([]byte(`.OUT {"ch":"out","data":{"kind":"integer","value":8}}` + "\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		em.mu.Lock()
		defer em.mu.Unlock()
		return len(em.outs) == 1
	}, time.Second, time.Millisecond)

	em.mu.Lock()
	out := em.outs[0]
	em.mu.Unlock()
	assert.Equal(t, "agent1", out.id)
	assert.Equal(t, "out", out.ch)
	i, _ := out.data.Value.AsInt()
	assert.EqualValues(t, 8, i)

	pc.markExited()
}

func TestDebugOutputIsNotTreatedAsACommand(t *testing.T) {
	pc := newPipeChild()
	em := &fakeEmitter{}
	sup := New(em, nil, func(ctx context.Context, cmdPath string, args []string, dir string, stderr *stderrForwarder) (ChildHandle, error) {
		return pc, nil
	}, nil)
	require.NoError(t, sup.Start("agent1", "/bin/fake", nil, "", nil))

	_, err := pc.stdoutW.Write([]byte("just some debug text\n"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	em.mu.Lock()
	defer em.mu.Unlock()
	assert.Empty(t, em.outs)

	pc.markExited()
}

func TestExitHandlerFiresOnUnexpectedExit(t *testing.T) {
	pc := newPipeChild()
	em := &fakeEmitter{}
	exited := make(chan string, 1)
	sup := New(em, nil, func(ctx context.Context, cmdPath string, args []string, dir string, stderr *stderrForwarder) (ChildHandle, error) {
		return pc, nil
	}, func(id string, err error) { exited <- id })

	require.NoError(t, sup.Start("agent1", "/bin/fake", nil, "", nil))
	pc.markExited()

	select {
	case id := <-exited:
		assert.Equal(t, "agent1", id)
	case <-time.After(time.Second):
		t.Fatal("exit handler did not fire")
	}
}

func TestStopAllGrantsGraceThenKillsResiduals(t *testing.T) {
	cooperative := newPipeChild()
	stubborn := newPipeChild()

	em := &fakeEmitter{}

	idx := 0
	children := []*pipeChild{cooperative, stubborn}
	sup := New(em, nil, func(ctx context.Context, cmdPath string, args []string, dir string, stderr *stderrForwarder) (ChildHandle, error) {
		c := children[idx]
		idx++
		return c, nil
	}, nil)

	require.NoError(t, sup.Start("cooperative", "/bin/fake", nil, "", nil))
	require.NoError(t, sup.Start("stubborn", "/bin/fake", nil, "", nil))

	// Simulate the cooperative child reading .QUIT and exiting promptly;
	// the stubborn child never reads its stdin at all.
	go func() {
		r := bufio.NewReader(cooperative.stdinR)
		if _, err := r.ReadString('\n'); err == nil {
			cooperative.markExited()
		}
	}()

	sup.StopAll(50 * time.Millisecond)

	assert.False(t, cooperative.wasKilled())
	assert.True(t, stubborn.wasKilled())
}
