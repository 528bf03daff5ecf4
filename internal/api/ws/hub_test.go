package ws

import (
	"encoding/json"
	"testing"

	"github.com/anuragpy07/ByteBattle/internal/domain/model"
	"github.com/anuragpy07/ByteBattle/internal/events"

	"go.uber.org/zap"
)

// newTestClient registers a client the way HandleWS does, minus the socket.
// dispatch and the registry paths never touch conn.
func newTestClient(h *Hub, userID string, buffer int) *client {
	c := &client{
		hub:      h,
		send:     make(chan []byte, buffer),
		userID:   userID,
		contests: make(map[string]struct{}),
	}
	if userID != "" {
		h.mu.Lock()
		if h.byUser[userID] == nil {
			h.byUser[userID] = make(map[*client]struct{})
		}
		h.byUser[userID][c] = struct{}{}
		h.mu.Unlock()
	}
	return c
}

func recvJSON(t *testing.T, c *client) map[string]interface{} {
	t.Helper()
	select {
	case raw := <-c.send:
		var msg map[string]interface{}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("bad message %q: %v", raw, err)
		}
		return msg
	default:
		t.Fatal("expected a buffered message")
		return nil
	}
}

func verdictReady(userID string) events.VerdictReady {
	return events.VerdictReady{Submission: model.Submission{
		ID:        "s1",
		UserID:    userID,
		ProblemID: "p1",
		Status:    model.StatusJudged,
		Verdict:   model.VerdictAccepted,
	}}
}

func TestVerdictDeliveredToSubmitterOnly(t *testing.T) {
	h := NewHub(zap.NewNop())
	alice := newTestClient(h, "alice", 4)
	aliceTablet := newTestClient(h, "alice", 4)
	bob := newTestClient(h, "bob", 4)

	h.dispatch(verdictReady("alice"))

	for _, c := range []*client{alice, aliceTablet} {
		msg := recvJSON(t, c)
		if msg["type"] != "verdict" || msg["submission_id"] != "s1" || msg["verdict"] != "Accepted" {
			t.Errorf("message = %v, want verdict/s1/Accepted", msg)
		}
	}
	if len(bob.send) != 0 {
		t.Error("verdict leaked to another user's connection")
	}
}

func TestVerdictForAnonymousSubmitterGoesNowhere(t *testing.T) {
	h := NewHub(zap.NewNop())
	watcher := newTestClient(h, "", 4)
	h.subscribe(watcher, "c1")

	h.dispatch(verdictReady(""))

	if len(watcher.send) != 0 {
		t.Error("verdict without a user must not be delivered")
	}
}

func TestStandingsDeliveredToContestSubscribers(t *testing.T) {
	h := NewHub(zap.NewNop())
	inC1 := newTestClient(h, "alice", 4)
	inC2 := newTestClient(h, "bob", 4)
	h.subscribe(inC1, "c1")
	h.subscribe(inC2, "c2")

	h.dispatch(events.StandingsChanged{
		ContestID: "c1",
		Entry:     model.LeaderboardEntry{ContestID: "c1", UserID: "alice", Rank: 1, Score: 100},
	})

	msg := recvJSON(t, inC1)
	if msg["type"] != "standings" || msg["contest_id"] != "c1" {
		t.Errorf("message = %v, want standings for c1", msg)
	}
	if len(inC2.send) != 0 {
		t.Error("standings delivered to a different contest's subscriber")
	}

	// After unsubscribing the client stops receiving deltas.
	h.unsubscribe(inC1, "c1")
	h.dispatch(events.StandingsChanged{ContestID: "c1", Entry: model.LeaderboardEntry{UserID: "bob"}})
	if len(inC1.send) != 0 {
		t.Error("standings delivered after unsubscribe")
	}
}

func TestFinalizedDeliveredToContestSubscribers(t *testing.T) {
	h := NewHub(zap.NewNop())
	c := newTestClient(h, "", 4)
	h.subscribe(c, "c1")

	h.dispatch(events.ContestFinalized{
		ContestID: "c1",
		Entries:   []model.LeaderboardEntry{{UserID: "alice", Rank: 1, Score: 100}},
	})

	msg := recvJSON(t, c)
	if msg["type"] != "finalized" || msg["contest_id"] != "c1" {
		t.Errorf("message = %v, want finalized for c1", msg)
	}
	entries, ok := msg["entries"].([]interface{})
	if !ok || len(entries) != 1 {
		t.Errorf("entries = %v, want 1 entry", msg["entries"])
	}
}

func TestSlowClientDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(zap.NewNop())
	slow := newTestClient(h, "", 1)
	fast := newTestClient(h, "", 4)
	h.subscribe(slow, "c1")
	h.subscribe(fast, "c1")

	// Three deltas against a one-slot buffer: dispatch must return without
	// blocking and the overflow is simply lost for that connection.
	for i := 0; i < 3; i++ {
		h.dispatch(events.StandingsChanged{
			ContestID: "c1",
			Entry:     model.LeaderboardEntry{UserID: "alice", Score: i},
		})
	}

	if len(slow.send) != 1 {
		t.Errorf("slow client buffered %d messages, want 1", len(slow.send))
	}
	if len(fast.send) != 3 {
		t.Errorf("fast client buffered %d messages, want 3", len(fast.send))
	}
}

func TestRemoveDropsAllRegistrations(t *testing.T) {
	h := NewHub(zap.NewNop())
	c := newTestClient(h, "alice", 4)
	h.subscribe(c, "c1")
	h.subscribe(c, "c2")

	h.remove(c)

	h.dispatch(verdictReady("alice"))
	h.dispatch(events.StandingsChanged{ContestID: "c1", Entry: model.LeaderboardEntry{UserID: "alice"}})

	if _, open := <-c.send; open {
		t.Error("send channel still open after remove")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.byContest) != 0 || len(h.byUser) != 0 {
		t.Errorf("registries not emptied: contests=%d users=%d", len(h.byContest), len(h.byUser))
	}
}
