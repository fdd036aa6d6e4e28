package bridge

import (
	"testing"
	"time"

	"github.com/cheburaska21/LolzChatBotTG/internal/domain"
)

func TestState_MarkSeen(t *testing.T) {
	s := NewState(0, 0)

	if !s.MarkSeen(1) {
		t.Fatal("first MarkSeen(1) should report new")
	}
	if s.MarkSeen(1) {
		t.Fatal("second MarkSeen(1) should report already seen")
	}
	if !s.Seen(1) {
		t.Fatal("Seen(1) should be true")
	}
	if s.Seen(2) {
		t.Fatal("Seen(2) should be false")
	}
}

func TestState_SeenEviction(t *testing.T) {
	s := NewState(3, 0)

	for id := int64(1); id <= 5; id++ {
		s.MarkSeen(id)
	}

	// Only the newest 3 survive.
	for id := int64(1); id <= 2; id++ {
		if s.Seen(id) {
			t.Errorf("id %d should have been evicted", id)
		}
	}
	for id := int64(3); id <= 5; id++ {
		if !s.Seen(id) {
			t.Errorf("id %d should still be seen", id)
		}
	}
}

func TestState_Cursor(t *testing.T) {
	s := NewState(0, 0)

	s.AdvanceCursor(10)
	s.AdvanceCursor(5) // never lowers
	if got := s.Cursor(); got != 10 {
		t.Errorf("cursor = %d, want 10", got)
	}
	s.AdvanceCursor(15)
	if got := s.Cursor(); got != 15 {
		t.Errorf("cursor = %d, want 15", got)
	}
}

func TestState_ReplyCacheEviction(t *testing.T) {
	s := NewState(0, 100)

	for id := int64(1); id <= 150; id++ {
		s.RecordReply(id, domain.ReplyTarget{UserID: id, Username: "user"})
		if n := s.ReplyCount(); n > 100 {
			t.Fatalf("reply cache grew to %d after inserting %d", n, id)
		}
	}

	if n := s.ReplyCount(); n != 100 {
		t.Fatalf("reply cache size = %d, want 100", n)
	}
	if _, ok := s.ReplyTarget(50); ok {
		t.Error("oldest entry 50 should have been evicted")
	}
	if _, ok := s.ReplyTarget(51); !ok {
		t.Error("entry 51 should have survived")
	}
	if _, ok := s.ReplyTarget(150); !ok {
		t.Error("newest entry 150 should be present")
	}
}

func TestState_Grouping(t *testing.T) {
	s := NewState(0, 0)

	author, at := s.Grouping()
	if author != "" || !at.IsZero() {
		t.Fatalf("fresh state grouping = (%q, %v), want empty", author, at)
	}

	now := time.Now()
	s.SetGrouping("alice", now)
	author, at = s.Grouping()
	if author != "alice" || !at.Equal(now) {
		t.Errorf("grouping = (%q, %v), want (alice, %v)", author, at, now)
	}
}
