package ssh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
)

// MockExecutor 用于测试：按服务器名返回预设结果
type MockExecutor struct {
	mu       sync.Mutex
	scripts  map[string]MockResult // key: server name
	commands map[string][]string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

type MockResult struct {
	Stdout     string
	Stderr     string
	ExitStatus int
	Err        error
	Delay      time.Duration
}

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{scripts: map[string]MockResult{}, commands: map[string][]string{}}
}

func (m *MockExecutor) Set(server string, res MockResult) {
	m.mu.Lock()
	m.scripts[server] = res
	m.mu.Unlock()
}

// Commands returns the commands sent to server, in call order.
func (m *MockExecutor) Commands(server string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands[server]...)
}

// MaxInFlight is the highest number of concurrent Exec calls observed.
func (m *MockExecutor) MaxInFlight() int { return int(m.maxInFlight.Load()) }

func (m *MockExecutor) Exec(ctx context.Context, t domain.ServerTarget, cmd string, timeout time.Duration) (ExecResult, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	r, ok := m.scripts[t.Name]
	m.commands[t.Name] = append(m.commands[t.Name], cmd)
	m.mu.Unlock()
	if !ok {
		return ExecResult{ExitStatus: 127, Stderr: "sh: command not found"}, nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if r.Delay > 0 {
		timer := time.NewTimer(r.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ExecResult{}, fmt.Errorf("%w: command on %s: %v", domain.ErrTimeout, t.Name, ctx.Err())
		case <-timer.C:
		}
	}
	return ExecResult{Stdout: r.Stdout, Stderr: r.Stderr, ExitStatus: r.ExitStatus}, r.Err
}
