package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/JaysonAlbert/log-search-mcp/internal/command"
	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
)

const layoutHint = "numeric zero-padded fields from year down, e.g. 2006-01-02 15:04:05"

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g. "servers.web-1.port"
	Message string
	Hint    string
	Err     error
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e ValidationError) Unwrap() error { return e.Err }

// Validate checks the whole config and returns every problem found.
func (c *Config) Validate() []error {
	var errs []error
	if c.DefaultTimeout <= 0 {
		errs = append(errs, ValidationError{Path: "default_timeout", Message: "must be positive", Hint: "seconds, e.g. 30"})
	}
	if c.MaxResults <= 0 {
		errs = append(errs, ValidationError{Path: "max_results", Message: "must be positive"})
	}
	if c.MaxParallel < 0 {
		errs = append(errs, ValidationError{Path: "max_parallel", Message: "must not be negative", Hint: "0 means unbounded"})
	}
	if c.HistoryBatchSize < 0 || c.HistoryFlushInterval < 0 {
		errs = append(errs, ValidationError{Path: "history", Message: "batch size and flush interval must not be negative"})
	}
	if c.TimestampPattern != "" {
		if _, err := regexp.CompilePOSIX(c.TimestampPattern); err != nil {
			errs = append(errs, ValidationError{Path: "timestamp_pattern", Message: err.Error(), Hint: "POSIX extended regular expression"})
		}
	}
	if c.TimestampLayout != "" {
		if err := command.CheckLayout(c.TimestampLayout); err != nil {
			errs = append(errs, ValidationError{Path: "timestamp_layout", Message: err.Error(), Hint: layoutHint, Err: err})
		}
	}
	for _, name := range c.ServerNames() {
		errs = append(errs, c.validateServer(name)...)
	}
	return errs
}

func (c *Config) validateServer(name string) []error {
	var errs []error
	s := c.Servers[name]
	path := "servers." + name
	if s.Timeout < 0 {
		errs = append(errs, ValidationError{Path: path + ".timeout", Message: "must not be negative"})
	}
	if s.TimestampPattern != "" {
		if _, err := regexp.CompilePOSIX(s.TimestampPattern); err != nil {
			errs = append(errs, ValidationError{Path: path + ".timestamp_pattern", Message: err.Error()})
		}
	}
	if s.TimestampLayout != "" {
		if err := command.CheckLayout(s.TimestampLayout); err != nil {
			errs = append(errs, ValidationError{Path: path + ".timestamp_layout", Message: err.Error(), Hint: layoutHint, Err: err})
		}
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			errs = append(errs, ValidationError{Path: path + ".timezone", Message: err.Error(), Hint: "IANA name, e.g. Europe/Berlin"})
		}
	}
	t, _ := c.Target(name)
	if err := t.Validate(); err != nil {
		ve := ValidationError{Path: path, Message: err.Error(), Err: err}
		if errors.Is(err, domain.ErrInvalidTarget) && s.PrivateKeyPath != "" && s.Password != "" {
			ve.Hint = "set exactly one of private_key_path or password"
		}
		errs = append(errs, ve)
	}
	return errs
}
