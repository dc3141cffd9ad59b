// Package profiling records timed phases of startup and of database
// load/save cycles, and reports them aggregated by phase path.
package profiling

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Span is one timed phase. Children are attached explicitly, so spans
// started on different goroutines never nest under each other. A nil Span
// is valid and records nothing.
type Span struct {
	rec   *Recorder
	path  string
	start time.Time
	once  sync.Once
}

// Start begins a child phase.
func (s *Span) Start(name string) *Span {
	if s == nil {
		return nil
	}
	return s.rec.start(s.path + "/" + name)
}

// Stop records the phase duration. Only the first call counts.
func (s *Span) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.rec.record(s.path, time.Since(s.start))
	})
}

// phase aggregates every recorded span sharing a path.
type phase struct {
	first time.Time
	count int
	total time.Duration
	max   time.Duration
}

// Recorder collects spans while enabled.
type Recorder struct {
	mu      sync.Mutex
	enabled bool
	began   time.Time
	phases  map[string]*phase
	now     func() time.Time
}

// NewRecorder returns a disabled recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// Enable starts recording. Spans started before Enable are not recorded.
func (r *Recorder) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled {
		return
	}
	r.enabled = true
	r.began = r.now()
	r.phases = make(map[string]*phase)
}

// Enabled reports whether spans are being recorded.
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Reset disables the recorder and discards what it recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = false
	r.phases = nil
}

// Start begins a top-level phase, or returns nil when disabled.
func (r *Recorder) Start(name string) *Span {
	return r.start(name)
}

func (r *Recorder) start(path string) *Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return nil
	}
	now := r.now()
	if _, ok := r.phases[path]; !ok {
		r.phases[path] = &phase{first: now}
	}
	return &Span{rec: r, path: path, start: now}
}

func (r *Recorder) record(path string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.phases[path]
	if !r.enabled || !ok {
		return
	}
	p.count++
	p.total += d
	if d > p.max {
		p.max = d
	}
}

// Summarize writes one line per phase, children indented under their
// parent, in the order phases first started.
func (r *Recorder) Summarize(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled || len(r.phases) == 0 {
		return
	}

	paths := make([]string, 0, len(r.phases))
	for path := range r.phases {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool {
		return r.before(paths[i], paths[j])
	})

	fmt.Fprintf(w, "\n--- Timing (%v) ---\n", r.now().Sub(r.began).Round(100*time.Microsecond))
	for _, path := range paths {
		p := r.phases[path]
		if p.count == 0 {
			continue
		}
		depth := strings.Count(path, "/")
		name := path[strings.LastIndex(path, "/")+1:]
		line := fmt.Sprintf("%s- %s %v", strings.Repeat("  ", depth), name, p.total.Round(100*time.Microsecond))
		if p.count > 1 {
			line += fmt.Sprintf(" (%dx, max %v)", p.count, p.max.Round(100*time.Microsecond))
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, "------------------")
}

// before orders a ahead of b when a's branch started first, comparing one
// ancestor level at a time so children stay under their parent.
func (r *Recorder) before(a, b string) bool {
	as, bs := strings.Split(a, "/"), strings.Split(b, "/")
	for i := 0; i < len(as) && i < len(bs); i++ {
		pa := strings.Join(as[:i+1], "/")
		pb := strings.Join(bs[:i+1], "/")
		if pa == pb {
			continue
		}
		fa, fb := r.firstStart(pa), r.firstStart(pb)
		if !fa.Equal(fb) {
			return fa.Before(fb)
		}
		return pa < pb
	}
	return len(as) < len(bs)
}

func (r *Recorder) firstStart(path string) time.Time {
	if p, ok := r.phases[path]; ok {
		return p.first
	}
	return time.Time{}
}

var defaultRecorder = NewRecorder()

// Enable turns on the process-wide recorder.
func Enable() { defaultRecorder.Enable() }

// Enabled reports whether the process-wide recorder is on.
func Enabled() bool { return defaultRecorder.Enabled() }

// Reset disables the process-wide recorder and clears it.
func Reset() { defaultRecorder.Reset() }

// Start begins a top-level phase on the process-wide recorder.
func Start(name string) *Span { return defaultRecorder.Start(name) }

// Summarize reports the process-wide recorder.
func Summarize(w io.Writer) { defaultRecorder.Summarize(w) }
