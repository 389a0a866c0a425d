package launcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recordStop 子进程收到 SIGTERM 时把名字追加到文件，用于检查停止顺序
func recordStop(name, file string) Command {
	script := "trap 'echo " + name + " >> " + file + "; exit 0' TERM; while :; do sleep 0.05; done"
	return shell(name, script)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Fields(string(data))
}

func testConfig(backend, router, bot Command) Config {
	return Config{
		Backend:      backend,
		Router:       router,
		Bot:          bot,
		StartDelay:   20 * time.Millisecond,
		GracePeriod:  2 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}
}

func TestLauncher_StopsInReverseOrderOnCancel(t *testing.T) {
	log := filepath.Join(t.TempDir(), "stops.log")
	l := New(testConfig(
		recordStop("backend", log),
		recordStop("router", log),
		recordStop("bot", log),
	), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, p := range l.Processes() {
			if p.State() != StateRunning {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
	// 等 trap 安装完成
	time.Sleep(200 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("launcher did not stop")
	}

	assert.Equal(t, []string{"bot", "router", "backend"}, readLines(t, log))
	for _, p := range l.Processes() {
		assert.Equal(t, StateStopped, p.State(), p.Name())
	}
}

func TestLauncher_CanaryDeathStopsEverything(t *testing.T) {
	l := New(testConfig(
		shell("backend", "exec sleep 30"),
		shell("router", "exec sleep 30"),
		shell("bot", "sleep 0.2; exit 7"),
	), zaptest.NewLogger(t))

	start := time.Now()
	err := l.Run(context.Background())
	require.ErrorIs(t, err, ErrCanaryDied)
	assert.Contains(t, err.Error(), "exit code 7")
	assert.Less(t, time.Since(start), 10*time.Second)

	for _, p := range l.Processes() {
		assert.True(t, p.Exited(), p.Name())
	}
}

func TestLauncher_BackendStartFailure(t *testing.T) {
	l := New(testConfig(
		Command{Name: "backend", Path: "/nonexistent/backend"},
		shell("router", "exec sleep 30"),
		shell("bot", "exec sleep 30"),
	), nil)

	err := l.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateIdle, l.Processes()[1].State())
	assert.Equal(t, StateIdle, l.Processes()[2].State())
}

func TestLauncher_BotStartFailureStopsOthers(t *testing.T) {
	l := New(testConfig(
		shell("backend", "exec sleep 30"),
		shell("router", "exec sleep 30"),
		Command{Name: "bot", Path: "/nonexistent/bot"},
	), nil)

	err := l.Run(context.Background())
	require.Error(t, err)
	assert.True(t, l.Processes()[0].Exited())
	assert.True(t, l.Processes()[1].Exited())
}

func TestLauncher_CancelDuringStartDelay(t *testing.T) {
	cfg := testConfig(
		shell("backend", "exec sleep 30"),
		shell("router", "exec sleep 30"),
		shell("bot", "exec sleep 30"),
	)
	cfg.StartDelay = time.Hour
	l := New(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Run(ctx))
	assert.True(t, l.Processes()[0].Exited())
	assert.Equal(t, StateIdle, l.Processes()[1].State())
}
