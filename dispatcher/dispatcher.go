// Package dispatcher provides synchronous in-process publish/subscribe
// with priority ordering and single-token wildcard matching. Listeners
// run inline on the dispatching goroutine; there is no queuing or
// concurrency here — durability and retry live in the queue package,
// which drains into a Dispatcher.
package dispatcher

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Listener handles one dispatched event and may return a value that
// Dispatch collects. A non-nil error aborts the remainder of the
// dispatch pass.
type Listener func(ctx context.Context, event string, payload map[string]any) (any, error)

// registration pins a listener to its pattern, priority and insertion
// sequence. seq breaks priority ties in registration order.
type registration struct {
	pattern  string
	re       *regexp.Regexp // nil for exact patterns
	listener Listener
	priority int
	seq      uint64
}

// Dispatcher routes events to registered listeners. Safe for concurrent
// registration and dispatch; each Dispatch call is fully synchronous.
type Dispatcher struct {
	mu    sync.RWMutex
	exact map[string][]registration
	globs []registration
	seq   uint64
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{exact: make(map[string][]registration)}
}

// AddListener registers a listener for an event name or a single-token
// wildcard pattern such as "cart.*". Higher priority listeners run
// first; equal priorities run in registration order.
func (d *Dispatcher) AddListener(pattern string, l Listener, priority int) error {
	if pattern == "" {
		return fmt.Errorf("dispatcher: empty event pattern")
	}
	if l == nil {
		return fmt.Errorf("dispatcher: nil listener for %q", pattern)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	reg := registration{pattern: pattern, listener: l, priority: priority, seq: d.seq}
	d.seq++

	if !strings.Contains(pattern, "*") {
		d.exact[pattern] = append(d.exact[pattern], reg)
		return nil
	}

	re, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	reg.re = re
	d.globs = append(d.globs, reg)
	return nil
}

// ListenerCount reports how many registrations would match the given
// event name.
func (d *Dispatcher) ListenerCount(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := len(d.exact[event])
	for _, g := range d.globs {
		if g.re.MatchString(event) {
			n++
		}
	}
	return n
}

// Dispatch invokes every listener whose registration matches the event
// name, highest priority first, and returns their results in invocation
// order. The first listener error aborts the pass; results collected
// before the failure are still returned.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, payload map[string]any) ([]any, error) {
	matched := d.match(event)

	results := make([]any, 0, len(matched))
	for _, reg := range matched {
		out, err := reg.listener(ctx, event, payload)
		if err != nil {
			return results, fmt.Errorf("dispatcher: listener %q for %q: %w", reg.pattern, event, err)
		}
		results = append(results, out)
	}
	return results, nil
}

// match snapshots the registrations matching an event name, ordered by
// (priority desc, registration seq asc).
func (d *Dispatcher) match(event string) []registration {
	d.mu.RLock()
	matched := make([]registration, 0, len(d.exact[event])+len(d.globs))
	matched = append(matched, d.exact[event]...)
	for _, g := range d.globs {
		if g.re.MatchString(event) {
			matched = append(matched, g)
		}
	}
	d.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].priority != matched[j].priority {
			return matched[i].priority > matched[j].priority
		}
		return matched[i].seq < matched[j].seq
	})
	return matched
}

// compilePattern translates a glob pattern into an anchored regexp.
// Each "*" matches exactly one dot-separated token.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, tok := range strings.Split(pattern, ".") {
		if b.Len() > 1 {
			b.WriteString(`\.`)
		}
		if tok == "*" {
			b.WriteString(`[^.]+`)
		} else {
			b.WriteString(regexp.QuoteMeta(tok))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("dispatcher: bad pattern %q: %w", pattern, err)
	}
	return re, nil
}
