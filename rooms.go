package chatsync

import (
	"context"
	"errors"
	"sync"
)

// RoomCoordinator tracks which conversation rooms the client wants to be in
// and issues join/leave requests over the connection. Joins are idempotent
// on the server, so requests are sent liberally on every conversation switch
// rather than gated on cached membership; the desired set exists only so
// memberships can be replayed after a transport-level reconnect, which the
// server does not preserve.
type RoomCoordinator struct {
	conn *Connection
	bus  *EventBus
	logf func(string, ...any)

	mu      sync.Mutex
	desired map[string]bool

	connectedSub *Subscription
}

// NewRoomCoordinator creates a coordinator that re-joins desired rooms on
// every connected event.
func NewRoomCoordinator(conn *Connection, bus *EventBus, logf func(string, ...any)) *RoomCoordinator {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	rc := &RoomCoordinator{
		conn:    conn,
		bus:     bus,
		logf:    logf,
		desired: make(map[string]bool),
	}
	rc.connectedSub = bus.On(TopicConnected, func(any) { rc.rejoinAll() })
	return rc
}

// Close removes the coordinator's bus subscription.
func (rc *RoomCoordinator) Close() {
	rc.bus.Off(rc.connectedSub)
}

// Join requests membership in the conversation's room. A request issued
// while disconnected is dropped, not queued; the membership is still
// recorded so it is established once the connection (re)opens.
func (rc *RoomCoordinator) Join(ctx context.Context, conversationID string) {
	if conversationID == "" {
		return
	}
	rc.mu.Lock()
	rc.desired[conversationID] = true
	rc.mu.Unlock()

	if err := rc.conn.JoinConversation(ctx, conversationID); err != nil && !errors.Is(err, ErrNotConnected) {
		rc.logf("chatsync: join %s: %v", conversationID, err)
	}
}

// Leave requests removal from the conversation's room. Symmetric to Join:
// a no-op on the wire while disconnected.
func (rc *RoomCoordinator) Leave(ctx context.Context, conversationID string) {
	if conversationID == "" {
		return
	}
	rc.mu.Lock()
	delete(rc.desired, conversationID)
	rc.mu.Unlock()

	if err := rc.conn.LeaveConversation(ctx, conversationID); err != nil && !errors.Is(err, ErrNotConnected) {
		rc.logf("chatsync: leave %s: %v", conversationID, err)
	}
}

// Joined reports whether the conversation is in the desired-membership set.
func (rc *RoomCoordinator) Joined(conversationID string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.desired[conversationID]
}

// rejoinAll replays every desired membership. Room membership does not
// survive a transport reconnect, so this runs on each connected event.
func (rc *RoomCoordinator) rejoinAll() {
	rc.mu.Lock()
	ids := make([]string, 0, len(rc.desired))
	for id := range rc.desired {
		ids = append(ids, id)
	}
	rc.mu.Unlock()

	for _, id := range ids {
		if err := rc.conn.JoinConversation(context.Background(), id); err != nil && !errors.Is(err, ErrNotConnected) {
			rc.logf("chatsync: rejoin %s: %v", id, err)
		}
	}
}
