package chatsync

import "sync"

// PresenceTracker maintains the set of currently-online counterpart
// identities, derived from user_status events. The client is read-only
// here: presence broadcast is the server's responsibility.
type PresenceTracker struct {
	bus *EventBus

	mu     sync.RWMutex
	online map[string]bool

	statusSub *Subscription
}

// NewPresenceTracker creates a tracker subscribed to the user_status topic.
func NewPresenceTracker(bus *EventBus) *PresenceTracker {
	pt := &PresenceTracker{
		bus:    bus,
		online: make(map[string]bool),
	}
	pt.statusSub = bus.On(TopicUserStatus, func(payload any) {
		p, ok := payload.(UserStatusPayload)
		if !ok {
			return
		}
		pt.apply(p)
	})
	return pt
}

// Close removes the tracker's bus subscription.
func (pt *PresenceTracker) Close() {
	pt.bus.Off(pt.statusSub)
}

func (pt *PresenceTracker) apply(p UserStatusPayload) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if p.IsOnline {
		pt.online[p.UserID] = true
	} else {
		delete(pt.online, p.UserID)
	}
}

// IsOnline reports whether userID is currently online.
func (pt *PresenceTracker) IsOnline(userID string) bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.online[userID]
}

// OnlineIDs returns the online set as a slice snapshot.
func (pt *PresenceTracker) OnlineIDs() []string {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	ids := make([]string, 0, len(pt.online))
	for id := range pt.online {
		ids = append(ids, id)
	}
	return ids
}
