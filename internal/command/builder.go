// Package command composes the single remote shell command run per host.
//
// Every value that originates outside this package (pattern, paths, time
// bounds, timestamp grammar) is shell-quoted before it is placed in the
// command string; callers must never concatenate anything onto the result.
package command

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/alessio/shellescape"

	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
)

const (
	DefaultBaseDir = "/opt/logs"
	// POSIX bracket form instead of {n} so mawk and busybox awk accept it.
	DefaultTimestampPattern = "[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9] [0-9][0-9]:[0-9][0-9]:[0-9][0-9]"
	DefaultTimestampLayout  = "2006-01-02 15:04:05"
)

// awk program; the regex and bounds come in through -v so the program text is constant.
const awkProgram = `match($0, re) { ts = substr($0, RSTART, RLENGTH); if (ts >= lo && (hi == "" || ts <= hi)) print }`

type Builder struct {
	BaseDir          string
	TimestampPattern string
	TimestampLayout  string
}

func NewBuilder(baseDir, tsPattern, tsLayout string) *Builder {
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	if tsPattern == "" {
		tsPattern = DefaultTimestampPattern
	}
	if tsLayout == "" {
		tsLayout = DefaultTimestampLayout
	}
	return &Builder{BaseDir: baseDir, TimestampPattern: tsPattern, TimestampLayout: tsLayout}
}

// LogFiles returns the explicit log paths of t, or the two conventional
// paths derived from its app name.
func (b *Builder) LogFiles(t domain.ServerTarget) ([]string, error) {
	var files []string
	for _, p := range t.LogPaths {
		if p = strings.TrimSpace(p); p != "" {
			files = append(files, p)
		}
	}
	if len(files) > 0 {
		return files, nil
	}
	app := strings.TrimSpace(t.AppName)
	if app == "" || app == "." || app == ".." || strings.ContainsRune(app, '/') {
		return nil, domain.ErrNoLogPathsConfigured
	}
	base := b.BaseDir
	if base == "" {
		base = DefaultBaseDir
	}
	return []string{
		path.Join(base, app, app+".log"),
		path.Join(base, app, app+".bee.log"),
	}, nil
}

// Build returns the command searching t's log files for pattern, keeping
// only lines inside filter (if any) and at most limit lines (limit <= 0
// means unbounded).
func (b *Builder) Build(t domain.ServerTarget, pattern string, filter *domain.TimeFilter, limit int) (string, error) {
	if pattern == "" {
		return "", domain.ErrEmptyPattern
	}
	files, err := b.LogFiles(t)
	if err != nil {
		return "", err
	}

	grep := []string{"grep", "-s", "-H", "-n", "-E"}
	if filter == nil && limit > 0 {
		// per-file early exit; unsafe with a time filter since out-of-window lines would count
		grep = append(grep, "-m", strconv.Itoa(limit))
	}
	grep = append(grep, "-e", shellescape.Quote(pattern), "--")

	var stages []string
	if t.FileAgeLimitDays > 0 {
		find := []string{"find"}
		for _, f := range files {
			if strings.HasPrefix(f, "-") {
				f = "./" + f
			}
			find = append(find, shellescape.Quote(f))
		}
		find = append(find, "-maxdepth", "0", "-type", "f", "-mtime", "-"+strconv.Itoa(t.FileAgeLimitDays), "-print0", "2>/dev/null")
		stages = append(stages, strings.Join(find, " "))
		stages = append(stages, "xargs -0 -r "+strings.Join(grep, " "))
	} else {
		for _, f := range files {
			grep = append(grep, shellescape.Quote(f))
		}
		stages = append(stages, strings.Join(grep, " "))
	}

	if filter != nil {
		awk, err := b.awkStage(t, filter)
		if err != nil {
			return "", err
		}
		stages = append(stages, awk)
	}
	if limit > 0 {
		stages = append(stages, "head -n "+strconv.Itoa(limit))
	}
	return strings.Join(stages, " | "), nil
}

func (b *Builder) awkStage(t domain.ServerTarget, f *domain.TimeFilter) (string, error) {
	pattern, layout := b.TimestampPattern, b.TimestampLayout
	if t.TimestampPattern != "" {
		pattern = t.TimestampPattern
	}
	if t.TimestampLayout != "" {
		layout = t.TimestampLayout
	}
	if pattern == "" {
		pattern = DefaultTimestampPattern
	}
	if layout == "" {
		layout = DefaultTimestampLayout
	}
	if err := CheckLayout(layout); err != nil {
		return "", fmt.Errorf("%s: %w", t.Name, err)
	}
	start, end := f.Start, f.End
	if t.Timezone != "" {
		loc, err := time.LoadLocation(t.Timezone)
		if err != nil {
			return "", fmt.Errorf("%w: %s: timezone %q: %v", domain.ErrInvalidTarget, t.Name, t.Timezone, err)
		}
		// bounds are rendered in the clock the remote log is written in
		start, end = start.In(loc), end.In(loc)
	}
	lo := start.Format(layout)
	hi := ""
	if f.Kind == domain.FilterAbsolute {
		hi = end.Format(layout)
	}
	return strings.Join([]string{
		"awk",
		"-v", "re=" + shellescape.Quote(pattern),
		"-v", "lo=" + shellescape.Quote(lo),
		"-v", "hi=" + shellescape.Quote(hi),
		shellescape.Quote(awkProgram),
	}, " "), nil
}
