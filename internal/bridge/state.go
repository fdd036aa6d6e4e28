package bridge

import (
	"sort"
	"sync"
	"time"

	"github.com/cheburaska21/LolzChatBotTG/internal/domain"
)

const (
	defaultSeenCap  = 4096
	defaultReplyCap = 100
)

// State is the relay's shared mutable state: the ingestion cursor, the
// seen-ID set, the reply-mapping cache and the author-grouping fields. Both
// ingestion paths and the pipeline consumer touch it, so every access goes
// through the mutex.
//
// Nothing here survives a restart; it is rebuilt from the room on startup.
type State struct {
	mu sync.Mutex

	seen      map[int64]struct{}
	seenOrder []int64 // insertion order, for eviction
	seenCap   int

	replies  map[int64]domain.ReplyTarget // destination message ID -> author
	replyCap int

	cursor int64

	lastAuthor string
	lastTime   time.Time
}

func NewState(seenCap, replyCap int) *State {
	if seenCap <= 0 {
		seenCap = defaultSeenCap
	}
	if replyCap <= 0 {
		replyCap = defaultReplyCap
	}
	return &State{
		seen:     make(map[int64]struct{}),
		seenCap:  seenCap,
		replies:  make(map[int64]domain.ReplyTarget),
		replyCap: replyCap,
	}
}

// MarkSeen records a message ID as handled. Returns false if it was already
// present. Only recent IDs are ever re-seen, so the set is capped to the
// newest entries rather than growing for the life of the process.
func (s *State) MarkSeen(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	s.seenOrder = append(s.seenOrder, id)

	for len(s.seenOrder) > s.seenCap {
		oldest := s.seenOrder[0]
		s.seenOrder = s.seenOrder[1:]
		delete(s.seen, oldest)
	}
	return true
}

// Seen reports whether a message ID was already handled.
func (s *State) Seen(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

// AdvanceCursor raises the last-processed cursor, never lowering it.
func (s *State) AdvanceCursor(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.cursor {
		s.cursor = id
	}
}

func (s *State) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// RecordReply maps a destination message ID to its chatbox author. When the
// cache outgrows its cap the oldest destination IDs are evicted; destination
// IDs grow monotonically, so sorting the keys orders by age.
func (s *State) RecordReply(destID int64, target domain.ReplyTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.replies[destID] = target
	if len(s.replies) <= s.replyCap {
		return
	}

	keys := make([]int64, 0, len(s.replies))
	for k := range s.replies {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys[:len(keys)-s.replyCap] {
		delete(s.replies, k)
	}
}

// ReplyTarget resolves a destination message ID back to its chatbox author.
func (s *State) ReplyTarget(destID int64) (domain.ReplyTarget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.replies[destID]
	return target, ok
}

// ReplyCount reports the reply-mapping cache size.
func (s *State) ReplyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}

// Grouping returns the author and time of the last forwarded message.
func (s *State) Grouping() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuthor, s.lastTime
}

// SetGrouping records the author and time of a successful forward.
func (s *State) SetGrouping(author string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAuthor = author
	s.lastTime = at
}
