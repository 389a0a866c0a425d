package launcher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ErrNotStarted 进程尚未启动
var ErrNotStarted = errors.New("process not started")

// State 子进程状态
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	// StateStopping 已发送 SIGTERM，等待优雅退出
	StateStopping
	// StateKilling 宽限期已过，已发送 SIGKILL
	StateKilling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateKilling:
		return "killing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Command 描述一个子进程
type Command struct {
	Name string
	Path string
	Args []string
	// Env 追加到当前环境变量之后
	Env []string

	Stdout io.Writer
	Stderr io.Writer
}

// Process 一个受管子进程
type Process struct {
	cmd    Command
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	exec     *exec.Cmd
	done     chan struct{}
	waitErr  error
	exitCode int
}

// NewProcess 创建受管进程，不会立即启动
func NewProcess(cmd Command, logger *zap.Logger) *Process {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Process{
		cmd:      cmd,
		logger:   logger.With(zap.String("process", cmd.Name)),
		done:     make(chan struct{}),
		exitCode: -1,
	}
}

// Name 进程名
func (p *Process) Name() string { return p.cmd.Name }

// State 当前状态
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// transition 仅当当前状态为 from 时切换到 to。
// 进程退出后 StateStopped 是终态，不会被 Stop 覆盖。
func (p *Process) transition(from, to State) bool {
	p.mu.Lock()
	ok := p.state == from
	if ok {
		p.state = to
	}
	p.mu.Unlock()
	if ok {
		p.logger.Debug("process state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	return ok
}

// Pid 子进程 pid，未启动时为 0
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exec == nil || p.exec.Process == nil {
		return 0
	}
	return p.exec.Process.Pid
}

// Start 启动子进程，并在后台等待其退出
func (p *Process) Start() error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return fmt.Errorf("%s already started", p.cmd.Name)
	}
	p.state = StateStarting
	p.mu.Unlock()

	p.logger.Info("spawning process", zap.String("path", p.cmd.Path), zap.Strings("args", p.cmd.Args))

	c := exec.Command(p.cmd.Path, p.cmd.Args...)
	c.Env = append(os.Environ(), p.cmd.Env...)
	c.Stdout = p.cmd.Stdout
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	c.Stderr = p.cmd.Stderr
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	// 孙进程持有输出管道时不无限等待
	c.WaitDelay = time.Second

	if err := c.Start(); err != nil {
		p.mu.Lock()
		p.state = StateStopped
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
		return fmt.Errorf("start %s: %w", p.cmd.Name, err)
	}

	p.mu.Lock()
	p.exec = c
	p.state = StateRunning
	p.mu.Unlock()
	p.logger.Debug("process state changed", zap.Stringer("from", StateStarting), zap.Stringer("to", StateRunning))

	go func() {
		err := c.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.exitCode = c.ProcessState.ExitCode()
		p.state = StateStopped
		p.mu.Unlock()
		close(p.done)
	}()
	return nil
}

// Done 进程退出后关闭
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited 进程是否已退出（非阻塞）
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err 退出原因，进程未退出时为 nil
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// ExitCode 退出码，未退出或被信号终止时为 -1
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Stop 发送 SIGTERM，grace 内未退出则 SIGKILL。返回是否被强制终止。
func (p *Process) Stop(grace time.Duration) (forced bool, err error) {
	p.mu.Lock()
	c := p.exec
	p.mu.Unlock()
	if c == nil {
		if p.Exited() {
			return false, nil
		}
		return false, ErrNotStarted
	}
	if !p.transition(StateRunning, StateStopping) {
		// 已退出，或另一个 Stop 正在终止它
		<-p.done
		return false, nil
	}
	p.logger.Info("terminating process", zap.Int("pid", c.Process.Pid))
	if err := c.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("SIGTERM failed", zap.Error(err))
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		p.logger.Info("process terminated")
		return false, nil
	case <-timer.C:
	}

	p.transition(StateStopping, StateKilling)
	p.logger.Warn("grace period elapsed, killing process", zap.Duration("grace", grace))
	if err := c.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return true, fmt.Errorf("kill %s: %w", p.cmd.Name, err)
	}
	<-p.done
	p.logger.Info("process killed")
	return true, nil
}
