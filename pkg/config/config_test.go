package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaysonAlbert/log-search-mcp/internal/command"
	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

const sampleTOML = `
default_timeout = 20
max_results = 50
max_parallel = 4

[servers.zeta]
hostname = "10.0.0.9"
username = "deploy"
password = "pw"
app_name = "billing"

[servers.alpha]
hostname = "alpha.internal"
port = 2222
username = "deploy"
private_key_path = "~/.ssh/id_ed25519"
app_name = "api"
log_paths = "/var/log/a.log, /var/log/b.log"
file_age_limit = "7"
timeout = 5

[servers.mid]
hostname = "mid.internal"
username = "ops"
password = "pw"
app_name = "web"
log_paths = ["/srv/web.log", " "]
`

func TestLoad_TOML(t *testing.T) {
	c, err := Load(writeFile(t, "cfg.toml", sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, 20, c.DefaultTimeout)
	assert.Equal(t, 50, c.MaxResults)
	assert.Equal(t, 4, c.MaxParallel)
	assert.Equal(t, "/opt/logs", c.LogBaseDir)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, c.ServerNames())

	alpha, ok := c.Target("alpha")
	require.True(t, ok)
	assert.Equal(t, 2222, alpha.Port)
	assert.Equal(t, []string{"/var/log/a.log", "/var/log/b.log"}, alpha.LogPaths)
	assert.Equal(t, 7, alpha.FileAgeLimitDays)
	assert.Equal(t, 5*time.Second, alpha.Timeout)
	assert.Equal(t, "key", alpha.AuthMethod())

	zeta, _ := c.Target("zeta")
	assert.Equal(t, 22, zeta.Port)
	assert.Equal(t, 20*time.Second, zeta.Timeout, "server timeout falls back to default_timeout")

	mid, _ := c.Target("mid")
	assert.Equal(t, []string{"/srv/web.log"}, mid.LogPaths)

	set, err := c.Targets()
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, set.Names())
}

func TestLoad_YAMLKeepsOrder(t *testing.T) {
	body := `
max_results: 10
servers:
  web-2:
    hostname: w2
    username: u
    password: p
    app_name: api
    log_paths: [/a.log, /b.log]
  web-1:
    hostname: w1
    username: u
    password: p
    app_name: api
    log_paths: "/c.log,/d.log"
    file_age_limit: 3
`
	c, err := Load(writeFile(t, "cfg.yaml", body))
	require.NoError(t, err)
	assert.Equal(t, []string{"web-2", "web-1"}, c.ServerNames())
	w1, _ := c.Target("web-1")
	assert.Equal(t, []string{"/c.log", "/d.log"}, w1.LogPaths)
	assert.Equal(t, 3, w1.FileAgeLimitDays)
	w2, _ := c.Target("web-2")
	assert.Equal(t, []string{"/a.log", "/b.log"}, w2.LogPaths)
	assert.Equal(t, 10, c.MaxResults)
	assert.Equal(t, 30, c.DefaultTimeout)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Empty(t, c.Path)
	assert.Equal(t, 30, c.DefaultTimeout)
	assert.Equal(t, 100, c.MaxResults)
	assert.Empty(t, c.ServerNames())
	set, err := c.Targets()
	require.NoError(t, err)
	assert.Zero(t, set.Len())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOGSEARCH_MAX_RESULTS", "7")
	t.Setenv("LOGSEARCH_DEFAULT_TIMEOUT", "12")
	t.Setenv("LOGSEARCH_HISTORY_DB", "off")
	t.Setenv("LOGSEARCH_MAX_PARALLEL", "not-a-number")
	c, err := Load(writeFile(t, "cfg.toml", sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, 7, c.MaxResults)
	assert.Equal(t, 12, c.DefaultTimeout)
	assert.Equal(t, 4, c.MaxParallel)
	assert.False(t, c.HistoryEnabled())
	zeta, _ := c.Target("zeta")
	assert.Equal(t, 12*time.Second, zeta.Timeout)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"both auth": `
[servers.a]
hostname = "h"
username = "u"
password = "p"
private_key_path = "/k"
app_name = "x"`,
		"no auth": `
[servers.a]
hostname = "h"
username = "u"
app_name = "x"`,
		"reserved name": `
[servers.all]
hostname = "h"
username = "u"
password = "p"
app_name = "x"`,
		"unknown key":   "max_resluts = 3",
		"bad timeout":   "default_timeout = 0",
		"bad age":       "[servers.a]\nhostname = \"h\"\nusername = \"u\"\npassword = \"p\"\napp_name = \"x\"\nfile_age_limit = \"soon\"",
		"bad regex":     `timestamp_pattern = "[0-9"`,
		"month names":   `timestamp_layout = "2006/Jan/02"`,
		"server layout": "[servers.a]\nhostname = \"h\"\nusername = \"u\"\npassword = \"p\"\napp_name = \"x\"\ntimestamp_layout = \"02/01/2006 15:04\"",
		"bad timezone":  "[servers.a]\nhostname = \"h\"\nusername = \"u\"\npassword = \"p\"\napp_name = \"x\"\ntimezone = \"Mars/Olympus\"",
		"syntax error":  "max_results = ",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "cfg.toml", body))
			assert.Error(t, err)
		})
	}

	_, err := Load(writeFile(t, "cfg.toml", cases["both auth"]))
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)
	assert.Contains(t, err.Error(), "servers.a")
	assert.Contains(t, err.Error(), "exactly one of")

	_, err = Load(writeFile(t, "cfg.yaml", "servers:\n  a:\n    hostnam: typo\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "cfg.toml", cases["month names"]))
	assert.ErrorIs(t, err, command.ErrUnsortableLayout)
	assert.Contains(t, err.Error(), "timestamp_layout")
}

func TestLoad_TimezoneAndLayout(t *testing.T) {
	c, err := Load(writeFile(t, "cfg.toml", `
timestamp_layout = "2006/01/02 15:04:05.000"

[servers.a]
hostname = "h"
username = "u"
password = "p"
app_name = "x"
timezone = "Asia/Tokyo"
timestamp_layout = "2006-01-02T15:04"
`))
	require.NoError(t, err)
	tgt, _ := c.Target("a")
	assert.Equal(t, "Asia/Tokyo", tgt.Timezone)
	assert.Equal(t, "2006-01-02T15:04", tgt.TimestampLayout)
}

func TestDBPath(t *testing.T) {
	c := Defaults()
	c.DataDir = "/tmp/x"
	assert.Equal(t, "/tmp/x/history.db", c.DBPath())
	c.HistoryDB = "/var/lib/ls/h.db"
	assert.Equal(t, "/var/lib/ls/h.db", c.DBPath())
	assert.True(t, c.HistoryEnabled())
}

func TestLoad_SecretReferences(t *testing.T) {
	t.Setenv("LOGSEARCH_TEST_WEB_PW", "s3cret")
	keyPass := writeFile(t, "pass", "hunter2\n")
	path := writeFile(t, "c.toml", `
[servers.web]
hostname = "w"
username = "u"
password = "env:LOGSEARCH_TEST_WEB_PW"
app_name = "api"

[servers.db]
hostname = "d"
username = "u"
private_key_path = "/keys/id"
key_passphrase = "file:`+keyPass+`"
app_name = "pg"
`)
	c, err := Load(path)
	require.NoError(t, err)
	web, _ := c.Target("web")
	assert.Equal(t, "s3cret", web.Password)
	db, _ := c.Target("db")
	assert.Equal(t, "hunter2", db.KeyPassphrase)

	bad := writeFile(t, "bad.toml", `
[servers.web]
hostname = "w"
username = "u"
password = "env:LOGSEARCH_TEST_MISSING_PW"
app_name = "api"
`)
	_, err = Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "servers.web.password")
}
