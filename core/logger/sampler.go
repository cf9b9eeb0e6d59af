package logger

import (
	"strconv"
	"strings"
	"sync"
)

// eventSampler lets through keep out of every window debug events, counted per event name
// so that a chatty event never starves a rare one.
type eventSampler struct {
	mu     sync.Mutex
	keep   int
	window int
	seen   map[string]int
}

func newEventSampler(keep, window int) *eventSampler {
	s := &eventSampler{}
	s.Set(keep, window)
	return s
}

// Set changes the ratio and resets the counters. A zero ratio disables sampling.
func (s *eventSampler) Set(keep, window int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keep <= 0 || window <= 0 {
		keep, window = 0, 0
	}
	s.keep = min(keep, window)
	s.window = window
	s.seen = make(map[string]int)
}

// Allow reports whether this occurrence of event should be logged.
func (s *eventSampler) Allow(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window == 0 {
		return true
	}
	n := s.seen[event] % s.window
	s.seen[event] = n + 1
	return n < s.keep
}

// parseSampleRatio reads "keep/window" or "window" (meaning 1/window). Anything
// unparsable or non-positive yields 0, 0.
func parseSampleRatio(spec string) (keep, window int) {
	spec = strings.TrimSpace(spec)
	k, w, found := strings.Cut(spec, "/")
	if !found {
		k, w = "1", spec
	}
	keep, err1 := strconv.Atoi(strings.TrimSpace(k))
	window, err2 := strconv.Atoi(strings.TrimSpace(w))
	if err1 != nil || err2 != nil || keep <= 0 || window <= 0 {
		return 0, 0
	}
	return keep, window
}
