package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	gssh "golang.org/x/crypto/ssh"

	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
)

const (
	defaultTimeout   = 30 * time.Second
	keepaliveTimeout = 3 * time.Second
)

// errChannelOpen marks a cached client that accepted a keepalive but refused a new channel.
var errChannelOpen = errors.New("open session channel")

// ExecResult is what one remote command produced. A non-zero ExitStatus is
// a normal result (grep exits 1 on "no match"), not an error.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// SessionStatus is the observable state of one target's cached session.
type SessionStatus struct {
	Connected bool      `json:"connected"`
	LastUsed  time.Time `json:"last_used,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// session 每个目标一个条目；lock 中的令牌代表对该连接的独占使用权
type session struct {
	lock     chan struct{}
	client   *gssh.Client // guarded by Manager.mu
	lastUsed time.Time
	lastErr  string
}

// Manager owns the per-target SSH clients. Sessions for different targets
// never wait on each other; commands on one target are serialized.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	log      *zap.Logger
}

func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{sessions: map[string]*session{}, log: log}
}

// Lease grants exclusive use of one target's client until Put.
type Lease struct {
	target domain.ServerTarget
	s      *session
	client *gssh.Client
	reused bool
	once   sync.Once
}

func (l *Lease) Target() domain.ServerTarget { return l.target }

func (m *Manager) entry(name string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	if !ok {
		s = &session{lock: make(chan struct{}, 1)}
		s.lock <- struct{}{}
		m.sessions[name] = s
	}
	return s
}

// Acquire waits for exclusive use of t's session, reusing the cached client
// when it still answers a keepalive and dialing a new one otherwise.
func (m *Manager) Acquire(ctx context.Context, t domain.ServerTarget) (*Lease, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthFailure, err)
	}
	s := m.entry(t.Name)
	select {
	case <-s.lock:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for session to %s: %v", domain.ErrTimeout, t.Name, ctx.Err())
	}

	m.mu.Lock()
	c := s.client
	m.mu.Unlock()
	if c != nil {
		if keepalive(ctx, c) {
			return &Lease{target: t, s: s, client: c, reused: true}, nil
		}
		m.log.Info("cached session is dead, reconnecting", zap.String("server", t.Name))
		m.drop(s, c, "keepalive failed")
	}

	c, err := m.dial(ctx, t)
	if err != nil {
		m.mu.Lock()
		s.lastErr = err.Error()
		m.mu.Unlock()
		s.lock <- struct{}{}
		m.log.Warn("connect failed", zap.String("server", t.Name), zap.String("addr", t.Addr()), zap.Error(err))
		return nil, err
	}
	m.mu.Lock()
	s.client = c
	s.lastErr = ""
	m.mu.Unlock()
	m.log.Info("connected", zap.String("server", t.Name), zap.String("addr", t.Addr()), zap.String("auth", t.AuthMethod()))
	return &Lease{target: t, s: s, client: c}, nil
}

// Put returns the lease. Calling it more than once is a no-op.
func (m *Manager) Put(l *Lease) {
	if l == nil {
		return
	}
	l.once.Do(func() {
		m.mu.Lock()
		l.s.lastUsed = time.Now()
		m.mu.Unlock()
		l.s.lock <- struct{}{}
	})
}

// Execute runs cmd on a fresh channel of the leased client. On timeout the
// remote process is signalled and the session is invalidated; transport
// failures invalidate the session too.
func (m *Manager) Execute(ctx context.Context, l *Lease, cmd string, timeout time.Duration) (ExecResult, error) {
	name := l.target.Name
	if cmd == "" {
		return ExecResult{}, fmt.Errorf("%w: %s: empty command", domain.ErrExecution, name)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sess, err := l.client.NewSession()
	if err != nil {
		m.drop(l.s, l.client, err.Error())
		return ExecResult{}, fmt.Errorf("%w: %s: %w: %v", domain.ErrExecution, name, errChannelOpen, err)
	}

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		// best effort: ask the remote side to kill the command, then tear the connection down
		_ = sess.Signal(gssh.SIGKILL)
		_ = sess.Close()
		m.drop(l.s, l.client, "command timed out")
		return ExecResult{}, fmt.Errorf("%w: command on %s: %v", domain.ErrTimeout, name, ctx.Err())
	case err = <-done:
	}
	_ = sess.Close()

	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var ee *gssh.ExitError
		if errors.As(err, &ee) {
			res.ExitStatus = ee.ExitStatus()
			return res, nil
		}
		m.drop(l.s, l.client, err.Error())
		return res, fmt.Errorf("%w: %s: %v", domain.ErrExecution, name, err)
	}
	return res, nil
}

// Exec acquires t's session, runs cmd and returns the lease. A reused
// client that refuses a new channel is replaced once.
func (m *Manager) Exec(ctx context.Context, t domain.ServerTarget, cmd string, timeout time.Duration) (ExecResult, error) {
	var res ExecResult
	op := func() error {
		l, err := m.Acquire(ctx, t)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer m.Put(l)
		res, err = m.Execute(ctx, l, cmd, timeout)
		if err != nil && l.reused && errors.Is(err, errChannelOpen) {
			m.log.Debug("stale session, redialing", zap.String("server", t.Name), zap.Error(err))
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 1), ctx)
	err := backoff.Retry(op, policy)
	return res, err
}

// Release closes and forgets t's cached client, waiting for any in-flight command first.
func (m *Manager) Release(name string) {
	m.mu.Lock()
	s, ok := m.sessions[name]
	m.mu.Unlock()
	if !ok {
		return
	}
	<-s.lock
	m.mu.Lock()
	c := s.client
	s.client = nil
	m.mu.Unlock()
	if c != nil {
		_ = c.Close()
		m.log.Info("closed session", zap.String("server", name))
	}
	s.lock <- struct{}{}
}

// ReleaseAll closes every cached client without waiting for in-flight
// commands. Close errors are ignored; it is safe to call repeatedly.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	var clients []*gssh.Client
	for _, s := range m.sessions {
		if s.client != nil {
			clients = append(clients, s.client)
			s.client = nil
		}
	}
	m.mu.Unlock()
	for _, c := range clients {
		_ = c.Close()
	}
	if len(clients) > 0 {
		m.log.Info("closed all sessions", zap.Int("count", len(clients)))
	}
}

// Status reports each known target's session state without touching it.
func (m *Manager) Status() map[string]SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]SessionStatus, len(m.sessions))
	for name, s := range m.sessions {
		out[name] = SessionStatus{Connected: s.client != nil, LastUsed: s.lastUsed, LastError: s.lastErr}
	}
	return out
}

// drop closes c and clears it from s if it is still the cached client.
func (m *Manager) drop(s *session, c *gssh.Client, reason string) {
	m.mu.Lock()
	if s.client == c {
		s.client = nil
	}
	s.lastErr = reason
	m.mu.Unlock()
	_ = c.Close()
}

func (m *Manager) dial(ctx context.Context, t domain.ServerTarget) (*gssh.Client, error) {
	auth, err := authMethods(t)
	if err != nil {
		return nil, err
	}
	hostKeys, err := hostKeyCallback(t)
	if err != nil {
		return nil, err
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	addr := t.Addr()
	d := net.Dialer{Deadline: deadline}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialErr(t.Name, err, ctx.Err())
	}
	// the handshake is not context aware; bound it with a socket deadline
	_ = nc.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })
	conf := &gssh.ClientConfig{User: t.Username, Auth: auth, HostKeyCallback: hostKeys, Timeout: timeout}
	conn, chans, reqs, err := gssh.NewClientConn(nc, addr, conf)
	stop()
	if err != nil {
		_ = nc.Close()
		return nil, classifyDialErr(t.Name, err, ctx.Err())
	}
	_ = nc.SetDeadline(time.Time{})
	return gssh.NewClient(conn, chans, reqs), nil
}

// keepalive 简单健康检测，带超时避免半开连接阻塞
func keepalive(ctx context.Context, c *gssh.Client) bool {
	done := make(chan error, 1)
	go func() {
		_, _, err := c.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()
	t := time.NewTimer(keepaliveTimeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err == nil
	case <-ctx.Done():
		return false
	case <-t.C:
		return false
	}
}
