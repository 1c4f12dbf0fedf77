package chat

import (
	"sync"
	"time"
)

// sequencer serializes timestamp assignment, persistence and fan-out per
// session. Slots are reference counted and freed when idle.
type sequencer struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	mu     sync.Mutex
	refs   int
	last   time.Time
	loaded bool
}

func newSequencer() *sequencer {
	return &sequencer{slots: make(map[string]*slot)}
}

func (s *sequencer) lock(sessionID string) *slot {
	s.mu.Lock()
	sl, ok := s.slots[sessionID]
	if !ok {
		sl = &slot{}
		s.slots[sessionID] = sl
	}
	sl.refs++
	s.mu.Unlock()

	sl.mu.Lock()
	return sl
}

func (s *sequencer) unlock(sessionID string, sl *slot) {
	sl.mu.Unlock()

	s.mu.Lock()
	sl.refs--
	if sl.refs == 0 {
		delete(s.slots, sessionID)
	}
	s.mu.Unlock()
}

// next returns a created_at strictly after the last one handed out.
func (sl *slot) next(now time.Time) time.Time {
	if !now.After(sl.last) {
		return sl.last.Add(time.Microsecond)
	}
	return now
}
