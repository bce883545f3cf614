// Package trace provides types for syscall event collection.
package trace

import (
	"strconv"
	"sync"
	"time"
)

// Tag represents a trace event category.
// Tags are stored without # prefix; the prefix is added on rendering.
type Tag string

// Standard tags for trace events.
const (
	File    Tag = "file"
	IO      Tag = "io"
	Process Tag = "process"
	Stdio   Tag = "stdio"
	Error   Tag = "error"
	Unknown Tag = "unknown"
	Exit    Tag = "exit"
)

// Tags is a collection of tags with helper methods.
type Tags []Tag

// Has returns true if the tag collection contains the given tag.
func (t Tags) Has(tag Tag) bool {
	for _, x := range t {
		if x == tag {
			return true
		}
	}
	return false
}

// Add adds a tag if not already present.
func (t *Tags) Add(tag Tag) {
	if !t.Has(tag) {
		*t = append(*t, tag)
	}
}

// Strings returns tags as strings with # prefix for display.
func (t Tags) Strings() []string {
	out := make([]string, len(t))
	for i, tag := range t {
		out[i] = "#" + string(tag)
	}
	return out
}

// Primary returns the first tag or empty string if none.
func (t Tags) Primary() Tag {
	if len(t) > 0 {
		return t[0]
	}
	return ""
}

// Annotations holds key-value metadata for trace events.
type Annotations map[string]string

// Set adds or updates an annotation.
func (a Annotations) Set(k, v string) {
	a[k] = v
}

// Get retrieves an annotation value.
func (a Annotations) Get(k string) string {
	return a[k]
}

// Event is one syscall serviced by a kernel.
type Event struct {
	PC          uint64      // Address of the instruction after the trap
	Nr          uint64      // Syscall number as trapped
	Tags        Tags        // Multiple hashtags, first is primary
	Name        string      // Syscall name, or nrN when the table has none
	Detail      string      // Additional detail (e.g., "fd=3 n=21", "path=/etc/motd")
	Ret         int64       // Raw result word
	Annotations Annotations // Key-value metadata
	Timestamp   time.Time   // When the event occurred
}

// NewEvent creates a new trace event with the given parameters.
func NewEvent(pc uint64, category, name, detail string) *Event {
	return &Event{
		PC:          pc,
		Tags:        Tags{Tag(category)},
		Name:        name,
		Detail:      detail,
		Annotations: make(Annotations),
		Timestamp:   time.Now(),
	}
}

// AddTag adds a tag to the event.
func (e *Event) AddTag(tag Tag) {
	e.Tags.Add(tag)
}

// Annotate sets an annotation on the event.
func (e *Event) Annotate(k, v string) {
	if e.Annotations == nil {
		e.Annotations = make(Annotations)
	}
	e.Annotations.Set(k, v)
}

// Failed reports whether Ret is an error word.
func (e *Event) Failed() bool {
	return e.Ret < 0 && e.Ret >= -4095
}

// Enricher enriches trace events based on category and name.
type Enricher func(e *Event)

// DefaultEnricher tags failures, stdio traffic and process exit.
func DefaultEnricher(e *Event) {
	if len(e.Tags) == 0 {
		return
	}

	if e.Failed() {
		e.AddTag(Error)
		e.Annotate("errno", strconv.FormatInt(-e.Ret, 10))
	}

	switch e.Tags[0] {
	case IO:
		if fd := e.Annotations.Get("fd"); fd == "0" || fd == "1" || fd == "2" {
			e.AddTag(Stdio)
		}
	case Process:
		switch e.Name {
		case "exit", "exit_group":
			e.AddTag(Exit)
		}
	}
}

// Collector accumulates events from a kernel callback. Safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	events []*Event
}

// Add records e.
func (c *Collector) Add(e *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

// Events returns a copy of everything recorded so far.
func (c *Collector) Events() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Event(nil), c.events...)
}

// GetAndClear returns the recorded events and forgets them.
func (c *Collector) GetAndClear() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := c.events
	c.events = nil
	return events
}

// Count returns how many recorded events carry tag.
func (c *Collector) Count(tag Tag) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Tags.Has(tag) {
			n++
		}
	}
	return n
}
