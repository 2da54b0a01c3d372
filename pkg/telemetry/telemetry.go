package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Minimal, low-overhead request telemetry designed for local usage.
// - By default only slow requests are logged (see slowThreshold).
// - Per-request spans are only recorded when a request is sampled.

type ctxKeyType struct{}

var (
	writerOnce    sync.Once
	writerCh      chan []byte
	requestCtr    uint64
	outDir        string
	sampleRate    = 0.001
	slowThreshold = 200 * time.Millisecond
)

// Span is a simple timed operation relative to request start (milliseconds).
type Span struct {
	Op       string         `json:"op"`
	StartMs  int64          `json:"start_ms"`
	Duration int64          `json:"duration_ms"`
	Data     map[string]any `json:"data,omitempty"`
}

// Trace holds the per-request record written to the telemetry log.
type Trace struct {
	RequestID string `json:"request_id"`
	Op        string `json:"op"`
	Duration  int64  `json:"duration_ms"`
	Status    int    `json:"status"`
	Spans     []Span `json:"spans,omitempty"`

	sampled   bool
	startTime time.Time
	mu        sync.Mutex
}

// SetOutputDir points the background writer at a directory. Must be called
// before the first request is traced to take effect.
func SetOutputDir(dir string) { outDir = dir }

func initWriter() {
	writerCh = make(chan []byte, 1024)
	go func() {
		dir := outDir
		if dir == "" {
			dir = filepath.Join("state", "telemetry")
		}
		_ = os.MkdirAll(dir, 0o755)
		f, err := os.OpenFile(filepath.Join(dir, "telemetry.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		for b := range writerCh {
			_, _ = f.Write(append(b, '\n'))
		}
	}()
}

func emit(t *Trace) {
	writerOnce.Do(initWriter)
	b, err := json.Marshal(t)
	if err != nil {
		return
	}
	select {
	case writerCh <- b:
	default:
		// drop rather than block the request path
	}
}

// FromContext returns the active trace, or nil when the request is untraced.
func FromContext(ctx context.Context) *Trace {
	t, _ := ctx.Value(ctxKeyType{}).(*Trace)
	return t
}

// AddSpan records a timed sub-operation on a sampled trace. It is a no-op
// for unsampled requests.
func AddSpan(ctx context.Context, op string, start time.Time, data map[string]any) {
	t := FromContext(ctx)
	if t == nil || !t.sampled {
		return
	}
	t.mu.Lock()
	t.Spans = append(t.Spans, Span{
		Op:       op,
		StartMs:  start.Sub(t.startTime).Milliseconds(),
		Duration: time.Since(start).Milliseconds(),
		Data:     data,
	})
	t.mu.Unlock()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware traces each request and writes a JSONL record for slow or
// sampled requests.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := atomic.AddUint64(&requestCtr, 1)
		t := &Trace{
			RequestID: fmt.Sprintf("req-%d-%d", time.Now().UnixNano(), id),
			Op:        r.Method + " " + r.URL.Path,
			sampled:   rand.Float64() < sampleRate,
			startTime: time.Now(),
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKeyType{}, t)))

		d := time.Since(t.startTime)
		if !t.sampled && d < slowThreshold {
			return
		}
		t.Duration = d.Milliseconds()
		t.Status = rec.status
		emit(t)
	})
}
