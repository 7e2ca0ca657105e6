package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelpipe.ai/internal/sim/world"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst. Each line is flushed to the encoder
// as it is written; the zstd frame completes on rotation or Close.
type JSONLZstdWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu    sync.Mutex
	hour  string
	file  *os.File
	zw    *zstd.Encoder
	buf   *bufio.Writer
	lines uint64
}

func NewJSONLZstdWriter(dir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{dir: dir, prefix: prefix, now: time.Now}
}

// Lines reports how many lines were written since the writer was created.
func (w *JSONLZstdWriter) Lines() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeFile()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if hour := w.now().UTC().Format("2006-01-02-15"); hour != w.hour {
		if err := w.openHour(hour); err != nil {
			return fmt.Errorf("%s: rotate: %w", w.prefix, err)
		}
	}
	// Encode appends the newline.
	if err := json.NewEncoder(w.buf).Encode(v); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	w.lines++
	return nil
}

// openHour closes the current file and appends to the one for hour. A
// reopened file gains a second zstd frame, which readers decode in sequence.
func (w *JSONLZstdWriter) openHour(hour string) error {
	if err := w.closeFile(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.file, w.zw, w.buf, w.hour = f, zw, bufio.NewWriterSize(zw, 128*1024), hour
	return nil
}

func (w *JSONLZstdWriter) closeFile() error {
	var err error
	if w.buf != nil {
		err = w.buf.Flush()
		w.buf = nil
	}
	if w.zw != nil {
		if cerr := w.zw.Close(); err == nil {
			err = cerr
		}
		w.zw = nil
	}
	if w.file != nil {
		if cerr := w.file.Close(); err == nil {
			err = cerr
		}
		w.file = nil
	}
	w.hour = ""
	return err
}

// TickLogger writes one JSONL entry per tick under <worldDir>/events.
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(worldDir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "events"), "events")}
}

func (l *TickLogger) WriteTick(v world.TickLogEntry) error { return l.w.Write(v) }
func (l *TickLogger) Close() error                         { return l.w.Close() }

// AuditLogger writes one JSONL entry per processed request under <worldDir>/audit.
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(worldDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(v world.AuditEntry) error { return l.w.Write(v) }
func (l *AuditLogger) Close() error                        { return l.w.Close() }

// ListFiles returns dir's <prefix>-*.jsonl.zst files in chronological order.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ReadJSONL decodes every line of a .jsonl.zst file and hands the raw line
// to fn. Returning an error from fn stops the scan.
func ReadJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

func ReadTicks(path string, fn func(world.TickLogEntry) error) error {
	return ReadJSONL(path, func(line []byte) error {
		var e world.TickLogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		return fn(e)
	})
}

func ReadAudit(path string, fn func(world.AuditEntry) error) error {
	return ReadJSONL(path, func(line []byte) error {
		var e world.AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		return fn(e)
	})
}
