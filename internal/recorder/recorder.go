// Package recorder writes a rotating JSONL trace of overlay events, one file
// per daemon session.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	MaxRotatedFiles = 3
	DefaultDir      = "data/traces"
)

// Entry is one recorded overlay event.
type Entry struct {
	Timestamp time.Time       `json:"ts"`
	Kind      string          `json:"kind"`
	Session   string          `json:"session,omitempty"`
	Nav       uint64          `json:"nav,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type Recorder struct {
	mu      sync.Mutex
	dir     string
	session string
	path    string
	file    *os.File
	enc     *json.Encoder
	now     func() time.Time
}

// New creates dir if needed. Nothing is written until Start.
func New(dir string) (*Recorder, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &Recorder{dir: dir, now: time.Now}, nil
}

// Start opens a new trace file for session, keeping at most MaxRotatedFiles
// traces on disk including the new one.
func (r *Recorder) Start(session string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file, r.enc = nil, nil
	}
	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	name := fmt.Sprintf("chatda_%s_%d.jsonl", session, r.now().UnixNano())
	path := filepath.Join(r.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace: %w", err)
	}
	r.session = session
	r.path = path
	r.file = f
	r.enc = json.NewEncoder(f)
	return nil
}

// Path is the current trace file, or "" before Start.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Log appends one entry. It is a no-op before Start or after Close.
func (r *Recorder) Log(kind string, nav uint64, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return
	}
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			b, _ = json.Marshal(map[string]string{"error": err.Error()})
		}
		raw = b
	}
	_ = r.enc.Encode(Entry{Timestamp: r.now(), Kind: kind, Session: r.session, Nav: nav, Data: raw})
}

// rotate deletes the oldest traces so that, with the file about to be
// created, at most MaxRotatedFiles remain. Age comes from the stamp in the name.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}
	var traces []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" || !strings.HasPrefix(e.Name(), "chatda_") {
			continue
		}
		traces = append(traces, e.Name())
	}
	sort.Slice(traces, func(i, j int) bool { return stamp(traces[i]) > stamp(traces[j]) })

	keep := MaxRotatedFiles - 1
	for i := keep; i < len(traces); i++ {
		_ = os.Remove(filepath.Join(r.dir, traces[i]))
	}
	return nil
}

func stamp(name string) int64 {
	base := strings.TrimSuffix(name, ".jsonl")
	n, _ := strconv.ParseInt(base[strings.LastIndex(base, "_")+1:], 10, 64)
	return n
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file, r.enc = nil, nil
	return err
}

// ReadTrace decodes a trace file written by Log.
func ReadTrace(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return out, fmt.Errorf("decode trace line %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
