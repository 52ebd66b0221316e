package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// RenditionLabel identifies a rendition outcome counter.
type RenditionLabel struct {
	Rendition string
	Status    string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests and the transcoding pipeline. It coordinates concurrent writers
// via a RWMutex while exposing a thread-safe gauge for in-flight jobs.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	jobEvents       map[string]uint64
	renditionEvents map[RenditionLabel]uint64
	sweepRemovals   uint64
	sweepErrors     uint64
	activeJobs      atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		jobEvents:       make(map[string]uint64),
		renditionEvents: make(map[RenditionLabel]uint64),
	}
}

// Default returns the process-wide recorder shared by components that are
// not wired with an explicit instance.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest records a completed HTTP request.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	label := requestLabel{method: method, path: path, status: fmt.Sprintf("%d", status)}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// JobStarted marks a job claimed by a worker.
func (r *Recorder) JobStarted() {
	r.recordJobEvent("started")
	if r != nil {
		r.activeJobs.Add(1)
	}
}

// JobCompleted marks a job that released its lease, whatever the outcome.
func (r *Recorder) JobCompleted(outcome string) {
	r.recordJobEvent(outcome)
	if r == nil {
		return
	}
	if r.activeJobs.Add(-1) < 0 {
		r.activeJobs.Store(0)
	}
}

// JobRetried marks a job re-enqueued with an incremented attempt.
func (r *Recorder) JobRetried() {
	r.recordJobEvent("retried")
}

// JobDuplicate marks a delivery rejected because the asset lease was held.
func (r *Recorder) JobDuplicate() {
	r.recordJobEvent("duplicate")
}

func (r *Recorder) recordJobEvent(event string) {
	if r == nil || event == "" {
		return
	}
	r.mu.Lock()
	r.jobEvents[event]++
	r.mu.Unlock()
}

// ObserveRendition records a terminal rendition state for one attempt.
func (r *Recorder) ObserveRendition(label, status string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.renditionEvents[RenditionLabel{Rendition: label, Status: status}]++
	r.mu.Unlock()
}

// ObserveSweep records one reconciler pass.
func (r *Recorder) ObserveSweep(removed int, failed int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.sweepRemovals += uint64(removed)
	r.sweepErrors += uint64(failed)
	r.mu.Unlock()
}

// ActiveJobs reports the number of jobs currently holding a lease.
func (r *Recorder) ActiveJobs() int64 {
	if r == nil {
		return 0
	}
	return r.activeJobs.Load()
}

// JobCounts returns a copy of the job event counters, used by tests.
func (r *Recorder) JobCounts() map[string]uint64 {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.jobEvents))
	for event, count := range r.jobEvents {
		out[event] = count
	}
	return out
}

// RenditionCounts returns a copy of the rendition counters, used by tests.
func (r *Recorder) RenditionCounts() map[RenditionLabel]uint64 {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[RenditionLabel]uint64, len(r.renditionEvents))
	for label, count := range r.renditionEvents {
		out[label] = count
	}
	return out
}

// Reset clears all counters. Intended for tests that share the default
// recorder.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.jobEvents = make(map[string]uint64)
	r.renditionEvents = make(map[RenditionLabel]uint64)
	r.sweepRemovals = 0
	r.sweepErrors = 0
	r.mu.Unlock()
	r.activeJobs.Store(0)
}

// Handler serves the text exposition format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders every counter and gauge in a stable order.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	jobEvents := sortedKeys(r.jobEvents)
	renditionLabels := r.sortedRenditionLabels()

	fmt.Fprintln(w, "# HELP videoflix_http_requests_total Total number of HTTP requests processed by the delivery gateway")
	fmt.Fprintln(w, "# TYPE videoflix_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "videoflix_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP videoflix_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE videoflix_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "videoflix_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP videoflix_transcode_jobs_total Transcode job events by outcome")
	fmt.Fprintln(w, "# TYPE videoflix_transcode_jobs_total counter")
	for _, event := range jobEvents {
		fmt.Fprintf(w, "videoflix_transcode_jobs_total{event=\"%s\"} %d\n", event, r.jobEvents[event])
	}

	fmt.Fprintln(w, "# HELP videoflix_renditions_total Rendition attempts by label and terminal state")
	fmt.Fprintln(w, "# TYPE videoflix_renditions_total counter")
	for _, label := range renditionLabels {
		fmt.Fprintf(w, "videoflix_renditions_total{rendition=\"%s\",status=\"%s\"} %d\n", label.Rendition, label.Status, r.renditionEvents[label])
	}

	fmt.Fprintln(w, "# HELP videoflix_active_jobs Current number of jobs holding an asset lease")
	fmt.Fprintln(w, "# TYPE videoflix_active_jobs gauge")
	fmt.Fprintf(w, "videoflix_active_jobs %d\n", r.activeJobs.Load())

	fmt.Fprintln(w, "# HELP videoflix_sweep_removals_total Orphaned artifact directories removed by the reconciler")
	fmt.Fprintln(w, "# TYPE videoflix_sweep_removals_total counter")
	fmt.Fprintf(w, "videoflix_sweep_removals_total %d\n", r.sweepRemovals)

	fmt.Fprintln(w, "# HELP videoflix_sweep_errors_total Sweep removals that failed and will be retried")
	fmt.Fprintln(w, "# TYPE videoflix_sweep_errors_total counter")
	fmt.Fprintf(w, "videoflix_sweep_errors_total %d\n", r.sweepErrors)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedRenditionLabels() []RenditionLabel {
	labels := make([]RenditionLabel, 0, len(r.renditionEvents))
	for label := range r.renditionEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Rendition != labels[j].Rendition {
			return labels[i].Rendition < labels[j].Rendition
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
