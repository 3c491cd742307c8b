// Package journal appends access events as zstd-compressed JSONL, one file
// per UTC hour.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Entry kinds.
const (
	KindVerdict  = "verdict"
	KindEjected  = "ejected"
	KindVisit    = "visit"
	KindSettings = "settings"
	KindRent     = "rent"
	KindIdentity = "identity"
)

// Entry is one journaled access event. Fields beyond At/Kind are filled per
// kind; zero values are omitted on the wire.
type Entry struct {
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"`
	SpaceID  string    `json:"spaceId,omitempty"`
	Wallet   string    `json:"wallet,omitempty"`
	CanEnter *bool     `json:"canEnter,omitempty"`
	IsOwner  bool      `json:"isOwner,omitempty"`
	Success  *bool     `json:"success,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// AccessLogger writes access Entry records (compressed) under
// <dataDir>/journal.
type AccessLogger struct{ w *JSONLZstdWriter }

func NewAccessLogger(dataDir string) *AccessLogger {
	return &AccessLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "journal"), "access")}
}

func (l *AccessLogger) Write(e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return l.w.Write(e)
}

func (l *AccessLogger) Close() error { return l.w.Close() }
