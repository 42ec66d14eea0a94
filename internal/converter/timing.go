package converter

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

type timingEvent struct {
	Phase      string  `json:"phase"`
	Status     string  `json:"status,omitempty"`
	Rows       int     `json:"rows,omitempty"`
	StartMS    float64 `json:"start_ms"`
	DurationMS float64 `json:"duration_ms"`
	EndMS      float64 `json:"end_ms"`
}

type timingRecorder struct {
	enabled bool
	start   time.Time
	mu      sync.Mutex
	events  []timingEvent
	file    *os.File
	enc     *json.Encoder
	err     error
}

func newTimingRecorder(start time.Time, path string) *timingRecorder {
	tr := &timingRecorder{start: start}
	if path == "" {
		return tr
	}
	f, err := os.Create(path)
	if err != nil {
		tr.err = err
		return tr
	}
	tr.enabled = true
	tr.file = f
	tr.enc = json.NewEncoder(f)
	return tr
}

func (tr *timingRecorder) Enabled() bool {
	return tr != nil && tr.enabled
}

func (tr *timingRecorder) Err() error {
	if tr == nil {
		return nil
	}
	return tr.err
}

func (tr *timingRecorder) Close() {
	if tr == nil || tr.file == nil {
		return
	}
	_ = tr.file.Close()
}

// Stage records one pipeline phase that began at start.
func (tr *timingRecorder) Stage(phase string, start time.Time, rows int, err error) {
	if tr == nil || !tr.enabled {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	startMS := durationToMS(start.Sub(tr.start))
	durationMS := durationToMS(time.Since(start))
	event := timingEvent{
		Phase:      phase,
		Status:     status,
		Rows:       rows,
		StartMS:    startMS,
		DurationMS: durationMS,
		EndMS:      startMS + durationMS,
	}
	tr.mu.Lock()
	tr.events = append(tr.events, event)
	if tr.enc != nil {
		_ = tr.enc.Encode(event)
	}
	tr.mu.Unlock()
}

func durationToMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000_000.0
}

// resolveTimingPath prefers the TPY_CSV_TIMING_JSONL environment variable
// over the configured path.
func resolveTimingPath(configured string) string {
	if envPath := os.Getenv("TPY_CSV_TIMING_JSONL"); envPath != "" {
		return envPath
	}
	return configured
}
