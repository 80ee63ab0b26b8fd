package domain

import (
	"fmt"
	"strings"
	"time"
)

// AllServers is the selector that fans a search out to every configured target.
const AllServers = "all"

// ServerTarget is one remote host eligible for search.
// Exactly one of PrivateKeyPath / Password must be set.
type ServerTarget struct {
	Name             string        `json:"name"`
	Hostname         string        `json:"hostname"`
	Port             int           `json:"port"`
	Username         string        `json:"username"`
	PrivateKeyPath   string        `json:"private_key_path,omitempty"`
	KeyPassphrase    string        `json:"-"`
	Password         string        `json:"-"`
	Timeout          time.Duration `json:"timeout"`
	AppName          string        `json:"app_name"`
	LogPaths         []string      `json:"log_paths,omitempty"`
	FileAgeLimitDays int           `json:"file_age_limit,omitempty"` // 0 = no mtime filter
	KnownHostsFile   string        `json:"known_hosts_file,omitempty"`
	TimestampPattern string        `json:"timestamp_pattern,omitempty"` // overrides the global grammar
	TimestampLayout  string        `json:"timestamp_layout,omitempty"`
	Timezone         string        `json:"timezone,omitempty"` // IANA name of the remote log clock; empty = local
}

// AuthMethod 返回 "key" 或 "password"
func (t ServerTarget) AuthMethod() string {
	if t.PrivateKeyPath != "" {
		return "key"
	}
	return "password"
}

// Addr returns host:port for dialing.
func (t ServerTarget) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", t.Hostname, port)
}

// Validate enforces the invariants a target must hold before any session is built from it.
func (t ServerTarget) Validate() error {
	switch {
	case strings.TrimSpace(t.Name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalidTarget)
	case strings.EqualFold(t.Name, AllServers):
		return fmt.Errorf("%w: %q is reserved", ErrInvalidTarget, AllServers)
	case strings.TrimSpace(t.Hostname) == "":
		return fmt.Errorf("%w: %s: empty hostname", ErrInvalidTarget, t.Name)
	case strings.TrimSpace(t.Username) == "":
		return fmt.Errorf("%w: %s: empty username", ErrInvalidTarget, t.Name)
	case t.Port < 0 || t.Port > 65535:
		return fmt.Errorf("%w: %s: port %d out of range", ErrInvalidTarget, t.Name, t.Port)
	case t.PrivateKeyPath != "" && t.Password != "":
		return fmt.Errorf("%w: %s: both private_key_path and password set", ErrInvalidTarget, t.Name)
	case t.PrivateKeyPath == "" && t.Password == "":
		return fmt.Errorf("%w: %s: one of private_key_path or password is required", ErrInvalidTarget, t.Name)
	case t.AppName == "" && len(t.LogPaths) == 0:
		return fmt.Errorf("%w: %s: app_name or log_paths is required", ErrInvalidTarget, t.Name)
	case t.FileAgeLimitDays < 0:
		return fmt.Errorf("%w: %s: negative file_age_limit", ErrInvalidTarget, t.Name)
	}
	return nil
}

// TargetSet is an ordered name -> target mapping. Iteration order is
// configuration order, which is also the order outcomes are reported in.
type TargetSet struct {
	order  []string
	byName map[string]ServerTarget
}

// NewTargetSet builds a set from targets in the given order. Duplicate names are rejected.
func NewTargetSet(targets ...ServerTarget) (*TargetSet, error) {
	s := &TargetSet{byName: make(map[string]ServerTarget, len(targets))}
	for _, t := range targets {
		if _, dup := s.byName[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate server %q", ErrInvalidTarget, t.Name)
		}
		s.order = append(s.order, t.Name)
		s.byName[t.Name] = t
	}
	return s, nil
}

func (s *TargetSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Names returns target names in configuration order.
func (s *TargetSet) Names() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

func (s *TargetSet) Get(name string) (ServerTarget, bool) {
	if s == nil {
		return ServerTarget{}, false
	}
	t, ok := s.byName[name]
	return t, ok
}

// All returns every target in configuration order.
func (s *TargetSet) All() []ServerTarget {
	if s == nil {
		return nil
	}
	out := make([]ServerTarget, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.byName[n])
	}
	return out
}
