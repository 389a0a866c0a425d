package launcher

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// syncBuffer 子进程输出由 exec 的拷贝 goroutine 写入
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func shell(name, script string) Command {
	return Command{Name: name, Path: "/bin/sh", Args: []string{"-c", script}}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:     "idle",
		StateStarting: "starting",
		StateRunning:  "running",
		StateStopping: "stopping",
		StateKilling:  "killing",
		StateStopped:  "stopped",
		State(42):     "unknown",
	}
	for s, want := range tests {
		assert.Equal(t, want, s.String())
	}
}

func TestProcess_RunsToCompletion(t *testing.T) {
	out := &syncBuffer{}
	cmd := shell("echo", `echo "hello $GREETING"; exit 3`)
	cmd.Env = []string{"GREETING=world"}
	cmd.Stdout = out

	p := NewProcess(cmd, zaptest.NewLogger(t))
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, 0, p.Pid())
	require.NoError(t, p.Start())
	assert.NotZero(t, p.Pid())

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.True(t, p.Exited())
	assert.Equal(t, StateStopped, p.State())
	assert.Equal(t, 3, p.ExitCode())
	assert.Error(t, p.Err())
	assert.Equal(t, "hello world\n", out.String())

	forced, err := p.Stop(10 * time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, forced)
}

func TestProcess_StartTwice(t *testing.T) {
	p := NewProcess(shell("sleep", "exec sleep 5"), nil)
	require.NoError(t, p.Start())
	t.Cleanup(func() { _, _ = p.Stop(time.Second) })

	assert.Error(t, p.Start())
}

func TestProcess_StartFailure(t *testing.T) {
	p := NewProcess(Command{Name: "missing", Path: "/nonexistent/binary"}, nil)
	err := p.Start()
	require.Error(t, err)
	assert.True(t, p.Exited())
	assert.Equal(t, StateStopped, p.State())

	forced, err := p.Stop(time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, forced)
}

func TestProcess_StopBeforeStart(t *testing.T) {
	p := NewProcess(shell("idle", "true"), nil)
	_, err := p.Stop(time.Millisecond)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestProcess_GracefulStop(t *testing.T) {
	p := NewProcess(shell("sleeper", "exec sleep 30"), zaptest.NewLogger(t))
	require.NoError(t, p.Start())
	assert.Equal(t, StateRunning, p.State())

	start := time.Now()
	forced, err := p.Stop(2 * time.Second)
	require.NoError(t, err)
	assert.False(t, forced)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateStopped, p.State())
	assert.Equal(t, -1, p.ExitCode())
}

func TestProcess_ForcedStop(t *testing.T) {
	// SIG_IGN 在 exec 之后保留，sleep 会忽略 SIGTERM
	p := NewProcess(shell("stubborn", "trap '' TERM; exec sleep 30"), zaptest.NewLogger(t))
	require.NoError(t, p.Start())

	// 等 trap 生效
	time.Sleep(100 * time.Millisecond)

	forced, err := p.Stop(100 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, forced)
	assert.True(t, p.Exited())
	assert.Equal(t, StateStopped, p.State())
}

func TestProcess_StopAfterExitKeepsStopped(t *testing.T) {
	p := NewProcess(shell("short", "exit 3"), zaptest.NewLogger(t))
	require.NoError(t, p.Start())

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	forced, err := p.Stop(time.Second)
	require.NoError(t, err)
	assert.False(t, forced)
	assert.Equal(t, StateStopped, p.State())
	assert.Equal(t, 3, p.ExitCode())
}

func TestProcess_TransitionRequiresExpectedState(t *testing.T) {
	p := NewProcess(shell("idle", "true"), zaptest.NewLogger(t))

	assert.False(t, p.transition(StateRunning, StateStopping))
	assert.Equal(t, StateIdle, p.State())

	// 进程先于 Stop 退出时状态已是 stopped
	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()

	assert.False(t, p.transition(StateRunning, StateStopping))
	assert.False(t, p.transition(StateStopping, StateKilling))
	assert.Equal(t, StateStopped, p.State())
}

func TestProcess_ConcurrentStop(t *testing.T) {
	p := NewProcess(shell("sleeper", "exec sleep 30"), zaptest.NewLogger(t))
	require.NoError(t, p.Start())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Stop(2 * time.Second)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.True(t, p.Exited())
	assert.Equal(t, StateStopped, p.State())
}
