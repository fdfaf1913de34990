package progress

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

// LogManager implements Manager with throttled line-based output for
// non-TTY environments (CI, cron, piped output). Prints periodic status
// lines instead of interactive progress bars.
type LogManager struct {
	mu       sync.Mutex
	out      io.Writer
	interval time.Duration
}

// NewLogManager creates a log-based progress manager writing to stderr.
func NewLogManager() *LogManager {
	return &LogManager{out: os.Stderr, interval: logInterval}
}

// NewLogManagerTo writes to w, throttling progress lines to one per interval.
func NewLogManagerTo(w io.Writer, interval time.Duration) *LogManager {
	return &LogManager{out: w, interval: interval}
}

func (m *LogManager) NewTracker(index, total int, filename string) Tracker {
	return &logTracker{
		mgr:   m,
		index: index,
		total: total,
		name:  filename,
		start: time.Now(),
	}
}

func (m *LogManager) Wait() {}

func (m *LogManager) SetOverallStats(filesComplete, filesWithErrors int, totalFieldErrors int64) {
	m.log(fmt.Sprintf("%d files complete, %d with errors, %s field errors",
		filesComplete, filesWithErrors, humanCount(totalFieldErrors)))
}

func (m *LogManager) log(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := time.Now().Format("15:04:05")
	fmt.Fprintf(m.out, "%s %s\n", ts, msg)
}

// logTracker implements Tracker with throttled log output.
type logTracker struct {
	mgr     *LogManager
	index   int
	total   int
	name    string
	start   time.Time
	stage   string
	lastLog time.Time
	prev    int64
	prevAt  time.Time
}

const logInterval = 20 * time.Second

func (t *logTracker) log(msg string) {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	ts := time.Now().Format("15:04:05")
	fmt.Fprintf(t.mgr.out, "%s [%d/%d] %s  %s\n", ts, t.index+1, t.total, t.name, msg)
}

func (t *logTracker) SetStage(stage string) {
	t.stage = stage
	t.lastLog = time.Time{} // reset throttle so next progress update prints
	t.prev = 0
	t.prevAt = time.Time{}
	t.log(stage)
}

func (t *logTracker) SetProgress(current, total int64) {
	now := time.Now()
	if now.Sub(t.lastLog) < t.mgr.interval && current != total {
		return
	}

	// Records per second since the last logged line
	speedStr := ""
	if !t.prevAt.IsZero() {
		elapsed := now.Sub(t.prevAt).Seconds()
		if elapsed > 0 {
			speedStr = fmt.Sprintf("  %.0f rec/s", float64(current-t.prev)/elapsed)
		}
	}
	t.prev = current
	t.prevAt = now
	t.lastLog = now

	if total > 0 {
		pct := float64(current) / float64(total) * 100
		t.log(fmt.Sprintf("%s  %s / %s records (%.0f%%)%s", t.stage, humanCount(current), humanCount(total), pct, speedStr))
	} else if current > 0 {
		t.log(fmt.Sprintf("%s  %s records%s", t.stage, humanCount(current), speedStr))
	}
}

func (t *logTracker) SetCounter(name string, value int64) {
	if time.Since(t.lastLog) < t.mgr.interval {
		return
	}
	t.lastLog = time.Now()
	t.log(fmt.Sprintf("%s  %s: %s", t.stage, name, humanCount(value)))
}

func (t *logTracker) Done() {
	elapsed := time.Since(t.start).Truncate(time.Second)
	t.log(fmt.Sprintf("Finished in %s", elapsed))
}

// humanCount renders n with thousands separators.
func humanCount(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := n < 0
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var out []byte
	pre := len(s) % 3
	if pre > 0 {
		out = append(out, s[:pre]...)
	}
	for i := pre; i < len(s); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, s[i:i+3]...)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
