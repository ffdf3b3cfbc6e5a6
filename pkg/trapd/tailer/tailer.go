// Package tailer implements durable, crash-safe tailing of an append-only
// trap log file: a read-ahead buffered line reader with multi-line record
// reassembly, index checkpointing, and truncation/rotation detection.
package tailer

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Source is the interface the Dispatcher pulls logical trap lines from. Both
// the file-backed Tailer and the Dispatcher's in-memory carry-over buffer
// implement it.
type Source interface {
	// Next returns the next logical line, or ok=false if nothing is
	// currently available.
	Next() (line string, ok bool)
	// Name identifies the source for logging.
	Name() string
}

const (
	// incompleteWait bounds how long Next waits for a partially-written
	// physical line to be completed by the external daemon. The budget
	// applies to one logical line's trailing physical-line read, not
	// cumulatively across an entire producer tick.
	incompleteWait = 10 * time.Second
	pollInterval   = 1 * time.Second
)

// Tailer tails a single append-only log file.
type Tailer struct {
	logPath   string
	indexPath string
	logger    *slog.Logger

	file   *os.File
	reader *bufio.Reader

	lastLine int64
	lastSize int64

	readAhead *string

	incompleteWait time.Duration
	pollInterval   time.Duration
}

// Open opens logPath, restores (or initializes) its checkpoint from
// logPath+".index", detects rotation/truncation, and skips already-consumed
// lines so the first call to Next returns the record immediately following
// the checkpoint. Open failure (the log file does not exist or cannot be
// opened) is fatal.
func Open(logPath string, logger *slog.Logger) (*Tailer, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("tailer: open %s: %w", logPath, err)
	}

	t := &Tailer{
		logPath:        logPath,
		indexPath:      logPath + ".index",
		logger:         logger,
		file:           f,
		incompleteWait: incompleteWait,
		pollInterval:   pollInterval,
	}

	lastLine, lastSize, ok := readIndex(t.indexPath, logger)
	if ok {
		t.lastLine, t.lastSize = lastLine, lastSize
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("tailer: stat %s: %w", logPath, err)
	}
	if info.Size() < t.lastSize {
		t.resetCursor()
		if err := os.Remove(t.indexPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("tailer: failed to remove stale index", "file", t.indexPath, "error", err.Error())
		}
		logger.Info("tailer: truncation detected at startup, resetting cursor", "file", logPath)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("tailer: seek %s: %w", logPath, err)
	}
	t.reader = bufio.NewReader(f)

	target := t.lastLine
	t.lastLine, t.lastSize = 0, 0
	for t.lastLine < target {
		if _, ok := t.Next(); !ok {
			break
		}
	}
	logger.Debug("tailer: opened", "file", logPath, "resumed_line", t.lastLine, "resumed_size", t.lastSize)

	return t, nil
}

// Name returns the tailed file path.
func (t *Tailer) Name() string { return t.logPath }

// Close releases the underlying file handle.
func (t *Tailer) Close() error {
	return t.file.Close()
}

// CheckRotation compares the log file's current size against the last
// consumed size. A smaller size means the file was rotated or truncated by
// the external daemon; the cursor is reset to (0,0), the stale index is
// removed, and the file handle is re-seeked to the start. Call this once per
// producer tick, before pulling lines.
func (t *Tailer) CheckRotation() error {
	info, err := os.Stat(t.logPath)
	if err != nil {
		return fmt.Errorf("tailer: stat %s: %w", t.logPath, err)
	}
	if info.Size() >= t.lastSize {
		return nil
	}

	t.logger.Info("tailer: rotation detected, resetting cursor", "file", t.logPath)
	if _, err := t.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("tailer: re-seek %s: %w", t.logPath, err)
	}
	t.reader = bufio.NewReader(t.file)
	t.resetCursor()
	if err := os.Remove(t.indexPath); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("tailer: failed to remove stale index", "file", t.indexPath, "error", err.Error())
	}
	return nil
}

func (t *Tailer) resetCursor() {
	t.lastLine, t.lastSize = 0, 0
	t.readAhead = nil
}

// Checkpoint durably, but not atomically or fsynced, records the current
// (last_line, last_size) to the index file. Call this
// after each trap line the caller has committed to processing — duplicate
// re-processing of the most recent record across a crash is acceptable.
func (t *Tailer) Checkpoint() error {
	data := []byte(fmt.Sprintf("%d %d", t.lastLine, t.lastSize))
	if err := os.WriteFile(t.indexPath, data, 0o644); err != nil {
		return fmt.Errorf("tailer: write index %s: %w", t.indexPath, err)
	}
	return nil
}

// Next returns the next logical trap record: either a single SNMP-prefixed
// line, or such a line followed by continuation lines that don't begin with
// "SNMP", concatenated into one logical line. It returns ok=false when no
// further data is currently available (the caller should try again on the
// next tick).
func (t *Tailer) Next() (line string, ok bool) {
	var cur string
	if t.readAhead != nil {
		cur = *t.readAhead
		t.readAhead = nil
	} else {
		text, hasData := t.readPhysicalLine()
		if !hasData {
			return "", false
		}
		cur = text
	}

	for {
		la, hasData := t.readPhysicalLine()
		if !hasData {
			break
		}
		if strings.HasPrefix(la, "SNMP") {
			t.readAhead = &la
			break
		}
		cur = cur + " " + la
	}
	return cur, true
}

// readPhysicalLine reads one '\n'-terminated physical line, waiting up to
// incompleteWait for more bytes to arrive if a partial (unterminated) line
// is already pending — this is the bound on latency introduced by partial
// writes from the external daemon. It returns hasData=false only when
// nothing at all is currently pending (a clean EOF), in which case the
// caller must not wait: the absence might simply mean this tick has caught
// up to the writer.
func (t *Tailer) readPhysicalLine() (text string, hasData bool) {
	var acc strings.Builder
	var deadline time.Time

	for {
		s, err := t.reader.ReadString('\n')
		acc.WriteString(s)

		if err == nil {
			t.lastLine++
			t.lastSize += int64(acc.Len())
			return strings.TrimSuffix(acc.String(), "\n"), true
		}
		if err != io.EOF {
			t.logger.Warn("tailer: read error", "file", t.logPath, "error", err.Error())
			return "", false
		}
		if acc.Len() == 0 {
			return "", false
		}

		if deadline.IsZero() {
			deadline = time.Now().Add(t.incompleteWait)
		}
		if time.Now().After(deadline) {
			t.lastLine++
			t.lastSize += int64(acc.Len())
			return acc.String(), true
		}
		time.Sleep(t.pollInterval)
	}
}

// readIndex reads and parses the "<last_line> <last_size>" index file. Any
// failure (missing file, malformed content) is recoverable and is treated
// as "no checkpoint" — ok=false — rather than propagated.
func readIndex(path string, logger *slog.Logger) (lastLine, lastSize int64, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("tailer: index unreadable, replaying from start", "file", path, "error", err.Error())
		}
		return 0, 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		logger.Warn("tailer: malformed index, replaying from start", "file", path)
		return 0, 0, false
	}
	line, err1 := strconv.ParseInt(fields[0], 10, 64)
	size, err2 := strconv.ParseInt(fields[1], 10, 64)
	if err1 != nil || err2 != nil {
		logger.Warn("tailer: malformed index, replaying from start", "file", path)
		return 0, 0, false
	}
	return line, size, true
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
