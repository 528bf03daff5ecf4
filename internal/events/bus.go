package events

import (
	"sync"

	"github.com/anuragpy07/ByteBattle/internal/domain/model"

	"go.uber.org/zap"
)

// VerdictReady is published by the judge pool once a submission reaches a
// terminal status. Rejudge marks a superseding pass.
type VerdictReady struct {
	Submission model.Submission
	Rejudge    bool
}

// StandingsChanged carries the delta for one participant of a live contest.
type StandingsChanged struct {
	ContestID string
	Entry     model.LeaderboardEntry
}

// ContestFinalized carries the frozen leaderboard after finalization.
type ContestFinalized struct {
	ContestID string
	Entries   []model.LeaderboardEntry
}

// Bus is an in-process publish/subscribe fan-out. Publish never blocks: a
// subscriber whose buffer is full misses the event, which is acceptable for
// every consumer here (clients can re-fetch a snapshot, the standings table
// is rebuilt at finalization anyway).
type Bus struct {
	mu     sync.RWMutex
	subs   []chan interface{}
	closed bool
	logger *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a new subscriber with the given buffer size.
func (b *Bus) Subscribe(buffer int) <-chan interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan interface{}, buffer)
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) Publish(ev interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("event dropped, subscriber lagging", zap.Any("event", ev))
		}
	}
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
}
