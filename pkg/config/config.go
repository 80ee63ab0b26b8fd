package config

// 统一配置加载：默认值 → 配置文件 (TOML / YAML) → LOGSEARCH_* 环境变量。

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/JaysonAlbert/log-search-mcp/internal/command"
	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
	"github.com/JaysonAlbert/log-search-mcp/pkg/secret"
)

const DefaultPath = "log_search_config.toml"

// Config 保存运行时关键参数。
type Config struct {
	DefaultTimeout       int    `toml:"default_timeout" yaml:"default_timeout"` // 秒
	MaxResults           int    `toml:"max_results" yaml:"max_results"`
	MaxParallel          int    `toml:"max_parallel" yaml:"max_parallel"` // <=0 不限制
	LogBaseDir           string `toml:"log_base_dir" yaml:"log_base_dir"`
	TimestampPattern     string `toml:"timestamp_pattern" yaml:"timestamp_pattern"`
	TimestampLayout      string `toml:"timestamp_layout" yaml:"timestamp_layout"`
	DataDir              string `toml:"data_dir" yaml:"data_dir"`
	HistoryDB            string `toml:"history_db" yaml:"history_db"` // "off" 关闭历史记录
	HistoryRetentionDays int    `toml:"history_retention_days" yaml:"history_retention_days"`
	HistoryMaxRows       int    `toml:"history_max_rows" yaml:"history_max_rows"`
	HistoryFlushInterval int    `toml:"history_flush_interval" yaml:"history_flush_interval"` // 秒
	HistoryBatchSize     int    `toml:"history_batch_size" yaml:"history_batch_size"`

	Servers map[string]ServerConfig `toml:"servers" yaml:"servers"`

	// Path is the file the config was read from; empty when defaults were used.
	Path  string   `toml:"-" yaml:"-"`
	order []string // server names in document order
}

// ServerConfig is one [servers.<name>] table.
type ServerConfig struct {
	Hostname         string   `toml:"hostname" yaml:"hostname" json:"hostname"`
	Port             int      `toml:"port" yaml:"port" json:"port"`
	Username         string   `toml:"username" yaml:"username" json:"username"`
	PrivateKeyPath   string   `toml:"private_key_path" yaml:"private_key_path" json:"private_key_path,omitempty"`
	KeyPassphrase    string   `toml:"key_passphrase" yaml:"key_passphrase" json:"-"`
	Password         string   `toml:"password" yaml:"password" json:"-"`
	AppName          string   `toml:"app_name" yaml:"app_name" json:"app_name,omitempty"`
	LogPaths         PathList `toml:"log_paths" yaml:"log_paths" json:"log_paths,omitempty"`
	Timeout          int      `toml:"timeout" yaml:"timeout" json:"timeout"`
	FileAgeLimit     LooseInt `toml:"file_age_limit" yaml:"file_age_limit" json:"file_age_limit,omitempty"`
	KnownHostsFile   string   `toml:"known_hosts_file" yaml:"known_hosts_file" json:"known_hosts_file,omitempty"`
	TimestampPattern string   `toml:"timestamp_pattern" yaml:"timestamp_pattern" json:"timestamp_pattern,omitempty"`
	TimestampLayout  string   `toml:"timestamp_layout" yaml:"timestamp_layout" json:"timestamp_layout,omitempty"`
	Timezone         string   `toml:"timezone" yaml:"timezone" json:"timezone,omitempty"`
}

// Defaults returns the configuration used when no file exists.
func Defaults() *Config {
	return &Config{
		DefaultTimeout:       30,
		MaxResults:           100,
		LogBaseDir:           command.DefaultBaseDir,
		DataDir:              defaultDataDir(),
		HistoryRetentionDays: 30,
		HistoryMaxRows:       10000,
		HistoryFlushInterval: 2,
		HistoryBatchSize:     20,
		Servers:              map[string]ServerConfig{},
	}
}

// Load reads path (TOML unless the extension is .yaml/.yml), applies
// environment overrides and validates the result. A missing file is not an
// error: the defaults are returned with Path left empty.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	c := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := c.decode(path, data); err != nil {
			return nil, err
		}
		c.Path = path
	}
	c.applyEnv()
	c.applyServerDefaults()
	errs := c.resolveSecrets()
	errs = append(errs, c.Validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid config %s: %w", path, errors.Join(errs...))
	}
	return c, nil
}

func (c *Config) decode(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("invalid config %s: %w", path, err)
		}
		var root yaml.Node
		if err := yaml.Unmarshal(data, &root); err != nil {
			return fmt.Errorf("invalid config %s: %w", path, err)
		}
		c.order = yamlServerOrder(&root)
	default:
		md, err := toml.Decode(string(data), c)
		if err != nil {
			return fmt.Errorf("invalid config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return fmt.Errorf("invalid config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
		for _, k := range md.Keys() {
			if len(k) == 2 && k[0] == "servers" {
				c.order = append(c.order, k[1])
			}
		}
	}
	if c.Servers == nil {
		c.Servers = map[string]ServerConfig{}
	}
	return nil
}

func yamlServerOrder(root *yaml.Node) []string {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(top.Content); i += 2 {
		if top.Content[i].Value != "servers" || top.Content[i+1].Kind != yaml.MappingNode {
			continue
		}
		var names []string
		servers := top.Content[i+1]
		for j := 0; j+1 < len(servers.Content); j += 2 {
			names = append(names, servers.Content[j].Value)
		}
		return names
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DefaultTimeout = envInt("LOGSEARCH_DEFAULT_TIMEOUT", c.DefaultTimeout)
	c.MaxResults = envInt("LOGSEARCH_MAX_RESULTS", c.MaxResults)
	c.MaxParallel = envInt("LOGSEARCH_MAX_PARALLEL", c.MaxParallel)
	c.LogBaseDir = envOr("LOGSEARCH_LOG_BASE_DIR", c.LogBaseDir)
	c.DataDir = envOr("LOGSEARCH_DATA_DIR", c.DataDir)
	c.HistoryDB = envOr("LOGSEARCH_HISTORY_DB", c.HistoryDB)
	c.HistoryRetentionDays = envInt("LOGSEARCH_HISTORY_RETENTION_DAYS", c.HistoryRetentionDays)
	c.HistoryMaxRows = envInt("LOGSEARCH_HISTORY_MAX_ROWS", c.HistoryMaxRows)
	c.HistoryFlushInterval = envInt("LOGSEARCH_HISTORY_FLUSH_INTERVAL", c.HistoryFlushInterval)
	c.HistoryBatchSize = envInt("LOGSEARCH_HISTORY_BATCH_SIZE", c.HistoryBatchSize)
}

func (c *Config) applyServerDefaults() {
	for name, s := range c.Servers {
		if s.Port == 0 {
			s.Port = 22
		}
		if s.Timeout == 0 {
			s.Timeout = c.DefaultTimeout
		}
		c.Servers[name] = s
	}
}

// resolveSecrets replaces env:/file: references in password and
// key_passphrase with the values they point at.
func (c *Config) resolveSecrets() []error {
	var errs []error
	for _, name := range c.ServerNames() {
		s := c.Servers[name]
		for key, field := range map[string]*string{"password": &s.Password, "key_passphrase": &s.KeyPassphrase} {
			if !secret.IsReference(*field) {
				continue
			}
			v, err := secret.Resolve(*field)
			if err != nil {
				errs = append(errs, ValidationError{Path: "servers." + name + "." + key, Message: err.Error(), Err: err})
				continue
			}
			*field = v
		}
		c.Servers[name] = s
	}
	return errs
}

// ServerNames returns the configured names in document order.
func (c *Config) ServerNames() []string {
	seen := make(map[string]bool, len(c.Servers))
	var names []string
	for _, n := range c.order {
		if _, ok := c.Servers[n]; ok && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	// servers added programmatically have no document position
	var rest []string
	for n := range c.Servers {
		if !seen[n] {
			rest = append(rest, n)
		}
	}
	slices.Sort(rest)
	return append(names, rest...)
}

// Target converts one server entry into the domain type.
func (c *Config) Target(name string) (domain.ServerTarget, bool) {
	s, ok := c.Servers[name]
	if !ok {
		return domain.ServerTarget{}, false
	}
	return domain.ServerTarget{
		Name:             name,
		Hostname:         s.Hostname,
		Port:             s.Port,
		Username:         s.Username,
		PrivateKeyPath:   s.PrivateKeyPath,
		KeyPassphrase:    s.KeyPassphrase,
		Password:         s.Password,
		Timeout:          time.Duration(s.Timeout) * time.Second,
		AppName:          s.AppName,
		LogPaths:         []string(s.LogPaths),
		FileAgeLimitDays: int(s.FileAgeLimit),
		KnownHostsFile:   s.KnownHostsFile,
		TimestampPattern: s.TimestampPattern,
		TimestampLayout:  s.TimestampLayout,
		Timezone:         s.Timezone,
	}, true
}

// Targets builds the ordered target set handed to the search core.
func (c *Config) Targets() (*domain.TargetSet, error) {
	var list []domain.ServerTarget
	for _, n := range c.ServerNames() {
		t, _ := c.Target(n)
		list = append(list, t)
	}
	return domain.NewTargetSet(list...)
}

func (c *Config) DefaultTimeoutDuration() time.Duration {
	return time.Duration(c.DefaultTimeout) * time.Second
}

// HistoryEnabled is false when history_db is "off".
func (c *Config) HistoryEnabled() bool { return !strings.EqualFold(c.HistoryDB, "off") }

// DBPath 返回 sqlite 文件路径。
func (c *Config) DBPath() string {
	if c.HistoryDB != "" && c.HistoryEnabled() {
		return c.HistoryDB
	}
	return filepath.Join(c.DataDir, "history.db")
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "log-search-mcp")
	}
	return "data"
}

// Helpers
func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
