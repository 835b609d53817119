// trace.go implements the supplemented decision-trace/replay harness: when
// enabled, every orchestrator decision point is appended as one JSON line
// to a trace file, which `research replay` can later walk to reconstruct
// why a past invocation made the choices it did (SPEC_FULL §7).
package orchestrator

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// TraceEvent is one recorded decision point.
type TraceEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	Step      string      `json:"step"`
	Data      interface{} `json:"data"`
}

// Tracer appends TraceEvents to a JSONL file. A nil *Tracer is a valid,
// no-op receiver, so callers never need to check whether tracing is on.
type Tracer struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewTracer opens (creating/appending to) the trace file at path. Pass an
// empty path to get a no-op tracer.
func NewTracer(path string) (*Tracer, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Tracer{path: path, file: f}, nil
}

// Close releases the underlying file handle.
func (t *Tracer) Close() error {
	if t == nil || t.file == nil {
		return nil
	}
	return t.file.Close()
}

func (t *Tracer) record(step string, data interface{}) {
	if t == nil || t.file == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	line, err := json.Marshal(TraceEvent{Timestamp: time.Now(), Step: step, Data: data})
	if err != nil {
		return
	}
	_, _ = t.file.Write(append(line, '\n'))
}

// ReplayEvents reads every TraceEvent recorded at path, in order, for the
// `research replay` command to render.
func ReplayEvents(path string) ([]TraceEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []TraceEvent
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var e TraceEvent
		if err := dec.Decode(&e); err != nil {
			break
		}
		events = append(events, e)
	}
	return events, nil
}
