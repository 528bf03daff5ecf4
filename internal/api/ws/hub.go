package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/anuragpy07/ByteBattle/internal/api/middleware"
	"github.com/anuragpy07/ByteBattle/internal/common/security"
	"github.com/anuragpy07/ByteBattle/internal/domain/model"
	"github.com/anuragpy07/ByteBattle/internal/events"

	"github.com/go-chi/jwtauth/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans standings deltas and verdict notifications out to websocket
// subscribers. Delivery is best-effort and at-most-once: a slow client's
// buffer overflowing costs it the event (and eventually the connection),
// never blocks a publisher. Clients re-fetch the snapshot to recover.
type Hub struct {
	logger *zap.Logger

	mu        sync.RWMutex
	byContest map[string]map[*client]struct{}
	byUser    map[string]map[*client]struct{}
}

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	userID   string // empty for anonymous connections
	mu       sync.Mutex
	contests map[string]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:    logger.Named("ws"),
		byContest: make(map[string]map[*client]struct{}),
		byUser:    make(map[string]map[*client]struct{}),
	}
}

// Run consumes bus events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, bus *events.Bus) {
	ch := bus.Subscribe(256)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.dispatch(ev)
		}
	}
}

type verdictMessage struct {
	Type         string        `json:"type"`
	SubmissionID string        `json:"submission_id"`
	ProblemID    string        `json:"problem_id"`
	Verdict      model.Verdict `json:"verdict"`
	Status       string        `json:"status"`
}

type standingsMessage struct {
	Type      string                 `json:"type"`
	ContestID string                 `json:"contest_id"`
	Entry     model.LeaderboardEntry `json:"entry"`
}

type finalizedMessage struct {
	Type      string                   `json:"type"`
	ContestID string                   `json:"contest_id"`
	Entries   []model.LeaderboardEntry `json:"entries"`
}

func (h *Hub) dispatch(ev interface{}) {
	switch e := ev.(type) {
	case events.VerdictReady:
		// Verdicts go only to the submitting participant's connections.
		msg, err := json.Marshal(verdictMessage{
			Type:         "verdict",
			SubmissionID: e.Submission.ID,
			ProblemID:    e.Submission.ProblemID,
			Verdict:      e.Submission.Verdict,
			Status:       string(e.Submission.Status),
		})
		if err != nil {
			return
		}
		h.sendToUser(e.Submission.UserID, msg)

	case events.StandingsChanged:
		msg, err := json.Marshal(standingsMessage{Type: "standings", ContestID: e.ContestID, Entry: e.Entry})
		if err != nil {
			return
		}
		h.sendToContest(e.ContestID, msg)

	case events.ContestFinalized:
		msg, err := json.Marshal(finalizedMessage{Type: "finalized", ContestID: e.ContestID, Entries: e.Entries})
		if err != nil {
			return
		}
		h.sendToContest(e.ContestID, msg)
	}
}

func (h *Hub) sendToContest(contestID string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byContest[contestID] {
		c.trySend(msg)
	}
}

func (h *Hub) sendToUser(userID string, msg []byte) {
	if userID == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byUser[userID] {
		c.trySend(msg)
	}
}

func (c *client) trySend(msg []byte) {
	select {
	case c.send <- msg:
	default:
		// Buffer full: drop the event for this connection.
	}
}

// HandleWS upgrades the connection. Authenticated connections also receive
// personal verdict notifications; contest subscriptions are managed by
// subscribe/unsubscribe messages on the socket.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	// The route skips the Authenticator middleware so anonymous clients can
	// follow contests; pick the user up from the verified claims if present.
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		if _, claims, err := jwtauth.FromContext(r.Context()); err == nil {
			userID, _ = security.GetUserIDFromClaims(claims)
		}
	}
	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		userID:   userID,
		contests: make(map[string]struct{}),
	}

	h.mu.Lock()
	if userID != "" {
		if h.byUser[userID] == nil {
			h.byUser[userID] = make(map[*client]struct{})
		}
		h.byUser[userID][c] = struct{}{}
	}
	h.mu.Unlock()

	go c.readPump()
	go c.writePump()
}

type subscribeMessage struct {
	Action    string `json:"action"` // subscribe | unsubscribe
	ContestID string `json:"contest_id"`
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg subscribeMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.ContestID == "" {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.hub.subscribe(c, msg.ContestID)
		case "unsubscribe":
			c.hub.unsubscribe(c, msg.ContestID)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) subscribe(c *client, contestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byContest[contestID] == nil {
		h.byContest[contestID] = make(map[*client]struct{})
	}
	h.byContest[contestID][c] = struct{}{}
	c.mu.Lock()
	c.contests[contestID] = struct{}{}
	c.mu.Unlock()
}

func (h *Hub) unsubscribe(c *client, contestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.byContest[contestID]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.byContest, contestID)
		}
	}
	c.mu.Lock()
	delete(c.contests, contestID)
	c.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.mu.Lock()
	for contestID := range c.contests {
		if subs := h.byContest[contestID]; subs != nil {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.byContest, contestID)
			}
		}
	}
	c.mu.Unlock()
	if c.userID != "" {
		if conns := h.byUser[c.userID]; conns != nil {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.byUser, c.userID)
			}
		}
	}
	close(c.send)
}
