// Package auditlog writes the tick audit trail as hourly zstd-compressed JSONL files.
package auditlog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"

	"github.com/talgya/cli-mmo/internal/engine"
)

// Writer appends JSON lines to <dir>/<prefix>-<yyyy-mm-dd-hh>.jsonl.zst, rotating every hour.
type Writer struct {
	dir    string
	prefix string
	now    func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// NewWriter creates a writer. Files are opened lazily on the first write.
func NewWriter(dir, prefix string) *Writer {
	return &Writer{dir: dir, prefix: prefix, now: time.Now}
}

// Write appends v as one JSON line and flushes it through the compressor.
func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "encode audit entry")
	}
	if _, err := w.w.Write(b); err != nil {
		return eris.Wrap(err, "write audit entry")
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return eris.Wrap(err, "write audit entry")
	}
	if err := w.w.Flush(); err != nil {
		return eris.Wrap(err, "flush audit entry")
	}
	return eris.Wrap(w.enc.Flush(), "flush compressor")
}

// Close flushes and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "create %s", filepath.Dir(path))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return eris.Wrapf(err, "open %s", path)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return eris.Wrap(err, "zstd writer")
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *Writer) closeLocked() error {
	var err error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TickLogger writes one entry per tick record. It is an engine.RecordSink.
type TickLogger struct {
	w *Writer
}

// NewTickLogger writes under <dir>/ticks.
func NewTickLogger(dir string) *TickLogger {
	return &TickLogger{w: NewWriter(filepath.Join(dir, "ticks"), "ticks")}
}

// RecordTick appends rec to the audit trail.
func (l *TickLogger) RecordTick(_ context.Context, rec engine.TickRecord) error {
	return l.w.Write(rec)
}

// Close flushes and closes the current file.
func (l *TickLogger) Close() error { return l.w.Close() }

// ReadTickRecords decodes every record in one audit file.
func ReadTickRecords(path string) ([]engine.TickRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, eris.Wrap(err, "zstd reader")
	}
	defer dec.Close()

	var out []engine.TickRecord
	jd := json.NewDecoder(dec)
	for {
		var rec engine.TickRecord
		if err := jd.Decode(&rec); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, eris.Wrapf(err, "decode %s", path)
		}
		out = append(out, rec)
	}
}
