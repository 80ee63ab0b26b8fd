package domain

import (
	"strings"
	"time"
)

// SearchRequest is one logical search.
type SearchRequest struct {
	Server     string        // server name or AllServers
	Pattern    string        // grep -E pattern, non-empty
	TimeRange  string        // optional, e.g. "1h", "2024-01-01 to 2024-01-02"
	MaxResults int           // per-host cap; <=0 uses the configured default
	Timeout    time.Duration // optional per-host override; never exceeds the target's own timeout
}

// IsFanOut reports whether the request targets every configured server.
func (r SearchRequest) IsFanOut() bool {
	return strings.EqualFold(strings.TrimSpace(r.Server), AllServers)
}

func (r SearchRequest) Validate() error {
	if strings.TrimSpace(r.Pattern) == "" {
		return ErrEmptyPattern
	}
	return nil
}

type FilterKind string

const (
	FilterRelative FilterKind = "relative"
	FilterAbsolute FilterKind = "absolute"
)

// TimeFilter is a resolved, host-independent time window. Start <= End.
type TimeFilter struct {
	Kind     FilterKind    `json:"kind"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration,omitempty"` // relative only
}

// OutcomeStatus is the closed set of per-host results.
type OutcomeStatus string

const (
	StatusSuccess        OutcomeStatus = "success"
	StatusAuthFailure    OutcomeStatus = "auth_failure"
	StatusConnectFailure OutcomeStatus = "connect_failure"
	StatusTimeout        OutcomeStatus = "timeout"
	StatusExecutionError OutcomeStatus = "execution_error"
	StatusNoSuchHost     OutcomeStatus = "no_such_host"
)

// HostSearchOutcome 单台主机的搜索结果
type HostSearchOutcome struct {
	Server    string        `json:"server"`
	Status    OutcomeStatus `json:"status"`
	Lines     []string      `json:"lines"`
	Count     int           `json:"count"`
	Truncated bool          `json:"truncated"`
	Elapsed   time.Duration `json:"elapsed"`
	Error     string        `json:"error,omitempty"`
}

func (o HostSearchOutcome) OK() bool { return o.Status == StatusSuccess }

// AggregateSearchResult is the response to one SearchRequest. Outcomes are
// in target-selection order, never completion order.
type AggregateSearchResult struct {
	RequestID      string              `json:"request_id"`
	Pattern        string              `json:"pattern"`
	Filter         *TimeFilter         `json:"filter,omitempty"`
	Outcomes       []HostSearchOutcome `json:"outcomes"`
	HostsQueried   int                 `json:"hosts_queried"`
	HostsSucceeded int                 `json:"hosts_succeeded"`
	HostsFailed    int                 `json:"hosts_failed"`
	TotalLines     int                 `json:"total_lines"`
}

// Tally recomputes the aggregate counters from Outcomes.
func (a *AggregateSearchResult) Tally() {
	a.HostsQueried = len(a.Outcomes)
	a.HostsSucceeded, a.HostsFailed, a.TotalLines = 0, 0, 0
	for _, o := range a.Outcomes {
		if o.OK() {
			a.HostsSucceeded++
		} else {
			a.HostsFailed++
		}
		a.TotalLines += o.Count
	}
}
