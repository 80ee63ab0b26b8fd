package command

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
)

func TestLogFiles_DefaultsFromAppName(t *testing.T) {
	b := NewBuilder("", "", "")
	files, err := b.LogFiles(domain.ServerTarget{AppName: "billing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/logs/billing/billing.log", "/opt/logs/billing/billing.bee.log"}, files)

	b = NewBuilder("/var/log", "", "")
	files, err = b.LogFiles(domain.ServerTarget{AppName: "billing", LogPaths: []string{" ", "/srv/a.log"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/a.log"}, files)
}

func TestLogFiles_NoPaths(t *testing.T) {
	b := NewBuilder("", "", "")
	for _, app := range []string{"", "  ", "..", "a/b"} {
		_, err := b.LogFiles(domain.ServerTarget{AppName: app})
		assert.ErrorIs(t, err, domain.ErrNoLogPathsConfigured, "app %q", app)
	}
	_, err := b.Build(domain.ServerTarget{}, "x", nil, 10)
	assert.ErrorIs(t, err, domain.ErrNoLogPathsConfigured)
}

func TestBuild_Shape(t *testing.T) {
	b := NewBuilder("", "", "")
	target := domain.ServerTarget{AppName: "api"}

	cmd, err := b.Build(target, "ERROR", nil, 5)
	require.NoError(t, err)
	assert.Equal(t, "grep -s -H -n -E -m 5 -e ERROR -- /opt/logs/api/api.log /opt/logs/api/api.bee.log | head -n 5", cmd)

	cmd, err = b.Build(target, "ERROR", nil, 0)
	require.NoError(t, err)
	assert.NotContains(t, cmd, "head")
	assert.NotContains(t, cmd, "-m")

	_, err = b.Build(target, "", nil, 5)
	assert.ErrorIs(t, err, domain.ErrEmptyPattern)
}

func TestBuild_TimeFilterDropsPerFileCap(t *testing.T) {
	b := NewBuilder("", "", "")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 2, 23, 59, 59, 0, time.UTC)

	cmd, err := b.Build(domain.ServerTarget{AppName: "api"}, "ERROR", &domain.TimeFilter{Kind: domain.FilterAbsolute, Start: start, End: end}, 7)
	require.NoError(t, err)
	assert.NotContains(t, cmd, "-m 7")
	assert.Contains(t, cmd, "| awk -v re=")
	assert.Contains(t, cmd, "lo='2024-01-01 00:00:00'")
	assert.Contains(t, cmd, "hi='2024-01-02 23:59:59'")
	assert.True(t, strings.HasSuffix(cmd, "| head -n 7"))

	cmd, err = b.Build(domain.ServerTarget{AppName: "api"}, "ERROR", &domain.TimeFilter{Kind: domain.FilterRelative, Start: start, End: end, Duration: 48 * time.Hour}, 7)
	require.NoError(t, err)
	assert.Contains(t, cmd, "hi=''")
}

func TestBuild_PerServerTimestampGrammar(t *testing.T) {
	b := NewBuilder("", "", "")
	target := domain.ServerTarget{AppName: "api", TimestampPattern: "[0-9]+/[0-9]+/[0-9]+T[0-9:]+", TimestampLayout: "2006/01/02T15:04:05"}
	cmd, err := b.Build(target, "x", &domain.TimeFilter{Kind: domain.FilterRelative, Start: time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)}, 1)
	require.NoError(t, err)
	assert.Contains(t, cmd, "re='[0-9]+/[0-9]+/[0-9]+T[0-9:]+'")
	assert.Contains(t, cmd, "lo=2024/02/03T00:00:00")

	target.TimestampLayout = "2006/Jan/02"
	_, err = b.Build(target, "x", &domain.TimeFilter{Kind: domain.FilterRelative, Start: time.Now()}, 1)
	assert.ErrorIs(t, err, ErrUnsortableLayout)

	// without a window the layout is never used
	_, err = b.Build(target, "x", nil, 1)
	assert.NoError(t, err)
}

func TestBuild_BoundsInTargetTimezone(t *testing.T) {
	if _, err := time.LoadLocation("Asia/Tokyo"); err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	b := NewBuilder("", "", "")
	f := &domain.TimeFilter{
		Kind:  domain.FilterAbsolute,
		Start: time.Date(2024, 1, 31, 20, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 22, 0, 0, 0, time.UTC),
	}
	cmd, err := b.Build(domain.ServerTarget{AppName: "api", Timezone: "Asia/Tokyo"}, "x", f, 1)
	require.NoError(t, err)
	assert.Contains(t, cmd, "lo='2024-02-01 05:00:00'")
	assert.Contains(t, cmd, "hi='2024-02-01 07:00:00'")

	cmd, err = b.Build(domain.ServerTarget{AppName: "api"}, "x", f, 1)
	require.NoError(t, err)
	assert.Contains(t, cmd, "lo='2024-01-31 20:00:00'")

	_, err = b.Build(domain.ServerTarget{Name: "x", AppName: "api", Timezone: "Mars/Olympus"}, "x", f, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)
}

func TestCheckLayout(t *testing.T) {
	good := []string{
		"2006-01-02 15:04:05",
		DefaultTimestampLayout,
		"2006/01/02T15:04:05.000",
		"2006-01-02 15:04:05,000000",
		"[2006-01-02 15:04]",
		"2006-01-02",
		"20060102150405",
		"2006.01.02",
	}
	for _, l := range good {
		assert.NoError(t, CheckLayout(l), l)
	}
	bad := []string{
		"2006/Jan/02",
		"Mon Jan _2 15:04:05 2006",
		"02/01/2006 15:04:05",
		"01/02/2006",
		"2006-1-2 15:04:05",
		"2006-01-02 03:04:05 PM",
		"2006-01-02 15:04:05.999",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05 MST",
		"06-01-02 15:04:05",
		"2006-01-02 04:05",
		"15:04:05",
		"",
	}
	for _, l := range bad {
		assert.ErrorIs(t, CheckLayout(l), ErrUnsortableLayout, l)
	}
}

func TestBuild_FileAgeLimit(t *testing.T) {
	b := NewBuilder("", "", "")
	cmd, err := b.Build(domain.ServerTarget{LogPaths: []string{"-odd.log", "/x/y.log"}, FileAgeLimitDays: 3}, "x", nil, 2)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cmd, "find ./-odd.log /x/y.log -maxdepth 0 -type f -mtime -3 -print0 2>/dev/null | xargs -0 -r grep "), cmd)
}

// --- commands executed by a local shell ---

func requireTools(t *testing.T, tools ...string) {
	t.Helper()
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available: %v", tool, err)
		}
	}
}

func runLocal(t *testing.T, dir, cmd string) (string, string) {
	t.Helper()
	c := exec.Command("sh", "-c", cmd)
	c.Dir = dir
	var stdout, stderr strings.Builder
	c.Stdout, c.Stderr = &stdout, &stderr
	_ = c.Run() // exit status is not the point here
	return stdout.String(), stderr.String()
}

func TestBuild_NeutralizesShellInjection(t *testing.T) {
	requireTools(t, "sh", "grep", "awk", "head", "find", "xargs")
	dir := t.TempDir()
	logFile := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(logFile, []byte("2024-01-01 10:00:00 ERROR boom\n"), 0o644))
	canary := filepath.Join(dir, "pwned")

	patterns := []string{
		"`touch " + canary + "`",
		"$(touch " + canary + ")",
		"; touch " + canary,
		"' ; touch " + canary + " ; echo '",
		"\" ; touch " + canary + " ; \"",
		"| touch " + canary,
		"&& touch " + canary,
		"ERROR\ntouch " + canary,
		"-f " + canary,
		"`; rm -rf " + filepath.Join(dir, "app.log") + "`",
	}
	b := NewBuilder("", "", "")
	filter := &domain.TimeFilter{Kind: domain.FilterRelative, Start: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)}
	for i, p := range patterns {
		for _, f := range []*domain.TimeFilter{nil, filter} {
			for _, age := range []int{0, 30} {
				t.Run(fmt.Sprintf("%d/filter=%v/age=%d", i, f != nil, age), func(t *testing.T) {
					cmd, err := b.Build(domain.ServerTarget{LogPaths: []string{logFile}, FileAgeLimitDays: age}, p, f, 10)
					require.NoError(t, err)
					runLocal(t, dir, cmd)
					_, statErr := os.Stat(canary)
					assert.True(t, os.IsNotExist(statErr), "pattern %q escaped: %s", p, cmd)
					_, statErr = os.Stat(logFile)
					assert.NoError(t, statErr, "log file removed by %q", p)
				})
			}
		}
	}
}

func TestBuild_NeutralizesInjectionInPathsAndGrammar(t *testing.T) {
	requireTools(t, "sh", "grep", "awk", "head")
	dir := t.TempDir()
	canary := filepath.Join(dir, "pwned")
	target := domain.ServerTarget{
		LogPaths:         []string{filepath.Join(dir, "a.log") + "; touch " + canary, "$(touch " + canary + ")"},
		TimestampPattern: `"); system("touch ` + canary + `"); ("`,
		TimestampLayout:  "2006'; touch pwned; '", // relative to dir

	}
	cmd, err := NewBuilder("", "", "").Build(target, "x", &domain.TimeFilter{Kind: domain.FilterAbsolute, Start: time.Now(), End: time.Now()}, 3)
	require.NoError(t, err)
	runLocal(t, dir, cmd)
	_, statErr := os.Stat(canary)
	assert.True(t, os.IsNotExist(statErr), "escaped: %s", cmd)
}

func TestBuild_CapAndFilterAgainstLocalFiles(t *testing.T) {
	requireTools(t, "sh", "grep", "awk", "head")
	dir := t.TempDir()
	logFile := filepath.Join(dir, "svc.log")

	var sb strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&sb, "2024-01-01 10:%02d:00 ERROR request %d failed\n", i, i)
		fmt.Fprintf(&sb, "2024-01-01 10:%02d:30 INFO request %d ok\n", i, i)
	}
	require.NoError(t, os.WriteFile(logFile, []byte(sb.String()), 0o644))

	b := NewBuilder("", "", "")
	target := domain.ServerTarget{LogPaths: []string{logFile}}

	out, _ := runLocal(t, dir, mustBuild(t, b, target, "ERROR", nil, 5))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], logFile+":1:2024-01-01 10:00:00 ERROR request 0"), lines[0])
	assert.Contains(t, lines[4], "request 4 failed")

	// lines before 10:40 must not consume the cap
	filter := &domain.TimeFilter{
		Kind:  domain.FilterAbsolute,
		Start: time.Date(2024, 1, 1, 10, 40, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 10, 45, 0, 0, time.UTC),
	}
	out, _ = runLocal(t, dir, mustBuild(t, b, target, "ERROR", filter, 3))
	lines = strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "request 40 failed")
	assert.Contains(t, lines[2], "request 42 failed")

	// special characters in the pattern are matched literally by grep, not by the shell
	out, _ = runLocal(t, dir, mustBuild(t, b, target, "request (7|8) failed$", nil, 10))
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestBuild_WindowAcrossMonthBoundary(t *testing.T) {
	requireTools(t, "sh", "grep", "awk", "head")
	dir := t.TempDir()
	logFile := filepath.Join(dir, "svc.log")
	require.NoError(t, os.WriteFile(logFile, []byte(
		"2024/01/19 23:59:59 ERROR before\n"+
			"2024/01/25 08:00:00 ERROR in-january\n"+
			"2024/02/03 12:00:00 ERROR in-february\n"+
			"2024/02/10 23:59:59 ERROR last-second\n"+
			"2024/02/11 00:00:00 ERROR after\n"), 0o644))

	b := NewBuilder("", "[0-9][0-9][0-9][0-9]/[0-9][0-9]/[0-9][0-9] [0-9][0-9]:[0-9][0-9]:[0-9][0-9]", "2006/01/02 15:04:05")
	filter := &domain.TimeFilter{
		Kind:  domain.FilterAbsolute,
		Start: time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 10, 23, 59, 59, 0, time.UTC),
	}
	out, _ := runLocal(t, dir, mustBuild(t, b, domain.ServerTarget{LogPaths: []string{logFile}}, "ERROR", filter, 10))
	assert.NotContains(t, out, "before")
	assert.Contains(t, out, "in-january")
	assert.Contains(t, out, "in-february")
	assert.Contains(t, out, "last-second")
	assert.NotContains(t, out, "after")
}

func mustBuild(t *testing.T, b *Builder, target domain.ServerTarget, pattern string, f *domain.TimeFilter, limit int) string {
	t.Helper()
	cmd, err := b.Build(target, pattern, f, limit)
	require.NoError(t, err)
	return cmd
}
