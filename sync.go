package chatsync

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyMessage is returned when the content is empty after trimming.
	ErrEmptyMessage = errors.New("chatsync: empty message")
	// ErrSendInFlight is returned while a send for the same conversation is
	// still pending.
	ErrSendInFlight = errors.New("chatsync: send already in flight")
)

// sendFailedSuffix is appended to an optimistic entry whose REST send was
// rejected, so the failure is visible in place.
const sendFailedSuffix = " (failed to send)"

// Identity is the signed-in user on whose behalf the synchronizer runs.
type Identity struct {
	ID   string
	Role SenderRole
}

// Synchronizer owns a surface's merged message state: REST-loaded history
// overlaid with live events, optimistic sends reconciled against server
// confirmations, plus the conversation summary index and global unread
// counter. One Synchronizer serves one mounted surface; several may run
// concurrently over the same bus and connection.
type Synchronizer struct {
	client *Client
	conn   *Connection
	bus    *EventBus
	self   Identity
	logf   func(string, ...any)

	mu          sync.Mutex
	activeID    string
	fetchGen    int
	messages    []Message
	index       map[string]*Conversation
	unreadTotal int
	inFlight    map[string]bool
	typing      map[string]map[string]bool

	onSendFailed func(conversationID, content string, err error)

	subs []*Subscription
}

// NewSynchronizer creates a synchronizer for self and subscribes it to the
// message, receipt, typing, and new-conversation topics. Subscriptions live
// for the lifetime of the surface; conversation switches do not touch them.
func NewSynchronizer(client *Client, conn *Connection, bus *EventBus, self Identity, logf func(string, ...any)) *Synchronizer {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	s := &Synchronizer{
		client:   client,
		conn:     conn,
		bus:      bus,
		self:     self,
		logf:     logf,
		index:    make(map[string]*Conversation),
		inFlight: make(map[string]bool),
		typing:   make(map[string]map[string]bool),
	}
	s.subs = []*Subscription{
		bus.On(TopicNewMessage, func(payload any) {
			if m, ok := payload.(Message); ok {
				s.handleNewMessage(m)
			}
		}),
		bus.On(TopicMessagesRead, func(payload any) {
			if p, ok := payload.(MessagesReadPayload); ok {
				s.handleMessagesRead(p)
			}
		}),
		bus.On(TopicUserTyping, func(payload any) {
			if p, ok := payload.(UserTypingPayload); ok {
				s.handleUserTyping(p)
			}
		}),
		bus.On(TopicNewConversation, func(payload any) {
			if p, ok := payload.(NewConversationPayload); ok {
				s.handleNewConversation(p)
			}
		}),
	}
	return s
}

// Close removes the synchronizer's bus subscriptions. The surface that
// registered them is the one responsible for calling this on unmount.
func (s *Synchronizer) Close() {
	for _, sub := range s.subs {
		s.bus.Off(sub)
	}
	s.subs = nil
}

// SetOnSendFailed registers the hook invoked when a REST send is rejected.
// content is the user's original text so the input can be restored for a
// manual retry; the SDK never retries on its own.
func (s *Synchronizer) SetOnSendFailed(fn func(conversationID, content string, err error)) {
	s.mu.Lock()
	s.onSendFailed = fn
	s.mu.Unlock()
}

// ============================================================================
// Mount / activation
// ============================================================================

// LoadConversations seeds the summary index and the global unread counter
// from REST. Called once on surface mount.
func (s *Synchronizer) LoadConversations(ctx context.Context) error {
	conversations, err := s.client.Conversations.List(ctx, 0, 0)
	if err != nil {
		return err
	}
	total, err := s.client.Conversations.UnreadTotal(ctx)
	if err != nil {
		// The per-conversation counts still render; the badge seeds later.
		s.logf("chatsync: unread total: %v", err)
		total = -1
	}

	s.mu.Lock()
	for i := range conversations {
		cv := conversations[i]
		s.index[cv.ID] = &cv
	}
	if total >= 0 {
		s.unreadTotal = total
	}
	s.mu.Unlock()
	return nil
}

// Activate switches the active conversation: the in-memory list is cleared
// and replaced with the fetched history page, then unread counterpart
// messages get a best-effort batch read receipt. An in-flight fetch for a
// previously active conversation is not cancelled; its late result is
// discarded by the generation guard so messages from conversation A never
// appear while viewing B.
func (s *Synchronizer) Activate(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	s.fetchGen++
	gen := s.fetchGen
	s.activeID = conversationID
	s.messages = nil
	s.mu.Unlock()

	history, err := s.client.Messages.History(ctx, conversationID, 0, 0)

	s.mu.Lock()
	if s.fetchGen != gen || s.activeID != conversationID {
		// Stale fetch: the user navigated away while this resolved.
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.messages = history
	s.mu.Unlock()

	s.flushReadReceipts(ctx)
	return nil
}

// ActiveConversation returns the currently active conversation id.
func (s *Synchronizer) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Messages returns a snapshot of the active conversation's list. Own
// messages appear in send order; cross-party order is event arrival order
// (no timestamp re-sort is performed).
func (s *Synchronizer) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Summaries returns the conversation index sorted most-recent first.
func (s *Synchronizer) Summaries() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.index))
	for _, cv := range s.index {
		out = append(out, *cv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt > out[j].LastMessageAt })
	return out
}

// Summary returns the indexed summary for one conversation, if known.
func (s *Synchronizer) Summary(conversationID string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cv, ok := s.index[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return *cv, true
}

// UnreadTotal returns the global unread counter for the badge surface.
func (s *Synchronizer) UnreadTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadTotal
}

// TypingUsers returns the ids currently typing in the conversation.
func (s *Synchronizer) TypingUsers(conversationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.typing[conversationID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ============================================================================
// Sending
// ============================================================================

// SendMessage inserts an optimistic entry synchronously, then issues the
// REST send. On success the optimistic entry is replaced in place by the
// server copy (matched by its temporary id); the event-driven confirmation
// in the new_message handler is the second reconciliation path, and
// whichever runs later finds nothing left to do. On failure the entry stays
// with an error flag and a visible failure suffix, and the original text is
// handed back through the OnSendFailed hook. No automatic retry.
func (s *Synchronizer) SendMessage(ctx context.Context, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	conversationID := s.activeID
	if conversationID == "" {
		s.mu.Unlock()
		return nil, errors.New("chatsync: no active conversation")
	}
	if s.inFlight[conversationID] {
		s.mu.Unlock()
		return nil, ErrSendInFlight
	}
	s.inFlight[conversationID] = true
	optimistic := Message{
		ID:             "tmp-" + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       s.self.ID,
		SenderRole:     s.self.Role,
		Content:        content,
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		Optimistic:     true,
	}
	s.messages = append(s.messages, optimistic)
	s.mu.Unlock()

	confirmed, err := s.client.Messages.Send(ctx, conversationID, content)

	s.mu.Lock()
	delete(s.inFlight, conversationID)
	if err != nil {
		for i := range s.messages {
			if s.messages[i].ID == optimistic.ID {
				s.messages[i].SendError = true
				s.messages[i].Content += sendFailedSuffix
				break
			}
		}
		hook := s.onSendFailed
		s.mu.Unlock()
		if hook != nil {
			hook(conversationID, content, err)
		}
		return nil, err
	}

	replaced := false
	for i := range s.messages {
		if s.messages[i].ID == optimistic.ID {
			s.messages[i] = *confirmed
			replaced = true
			break
		}
	}
	// Not replaced: the socket echo already reconciled this entry (or the
	// user switched conversations mid-send) — this path becomes a no-op.
	_ = replaced
	s.touchSummaryLocked(conversationID, confirmed.Content, confirmed.Timestamp)
	s.mu.Unlock()
	return confirmed, nil
}

// ============================================================================
// Inbound event handlers
// ============================================================================

func (s *Synchronizer) handleNewMessage(m Message) {
	s.mu.Lock()

	if m.ConversationID != s.activeID {
		// Not the active conversation: mutate its summary only, never the
		// visible message list.
		s.touchSummaryLocked(m.ConversationID, m.Content, m.Timestamp)
		if m.SenderID != s.self.ID {
			if cv, ok := s.index[m.ConversationID]; ok {
				cv.UnreadCount++
			}
			s.unreadTotal++
		}
		s.mu.Unlock()
		return
	}

	if s.containsLocked(m.ID) {
		// Already reconciled via the REST path.
		s.mu.Unlock()
		return
	}

	if m.SenderID == s.self.ID {
		// Server echo of our own send: collapse the matching optimistic
		// entry in place, preserving send order.
		for i := range s.messages {
			if s.messages[i].Optimistic && s.messages[i].SenderID == m.SenderID && s.messages[i].Content == m.Content {
				s.messages[i] = m
				s.touchSummaryLocked(m.ConversationID, m.Content, m.Timestamp)
				s.mu.Unlock()
				return
			}
		}
		// Optimistic entry aged out: plain append.
		s.messages = append(s.messages, m)
		s.touchSummaryLocked(m.ConversationID, m.Content, m.Timestamp)
		s.mu.Unlock()
		return
	}

	// Counterpart message in the viewed conversation.
	s.messages = append(s.messages, m)
	s.touchSummaryLocked(m.ConversationID, m.Content, m.Timestamp)
	s.mu.Unlock()

	go s.flushReadReceipts(context.Background())
}

func (s *Synchronizer) handleMessagesRead(p MessagesReadPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ConversationID != s.activeID {
		return
	}
	ids := make(map[string]bool, len(p.MessageIDs))
	for _, id := range p.MessageIDs {
		ids[id] = true
	}
	for i := range s.messages {
		if ids[s.messages[i].ID] {
			s.messages[i].IsRead = true
		}
	}
}

func (s *Synchronizer) handleUserTyping(p UserTypingPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.typing[p.ConversationID]
	if p.IsTyping {
		if set == nil {
			set = make(map[string]bool)
			s.typing[p.ConversationID] = set
		}
		set[p.UserID] = true
		return
	}
	delete(set, p.UserID)
}

func (s *Synchronizer) handleNewConversation(p NewConversationPayload) {
	s.mu.Lock()
	cv := p.Conversation
	s.index[cv.ID] = &cv
	if p.Message.SenderID != s.self.ID {
		s.unreadTotal++
	}
	if cv.ID == s.activeID && !s.containsLocked(p.Message.ID) {
		s.messages = append(s.messages, p.Message)
	}
	s.mu.Unlock()
}

// ============================================================================
// Read receipts
// ============================================================================

// flushReadReceipts batches a read receipt for every unread counterpart
// message in the active list. Best effort: a failure is logged, never
// retried, and never blocks the surface.
func (s *Synchronizer) flushReadReceipts(ctx context.Context) {
	s.mu.Lock()
	conversationID := s.activeID
	var ids []string
	for i := range s.messages {
		m := &s.messages[i]
		if !m.IsRead && !m.Optimistic && m.SenderID != s.self.ID {
			ids = append(ids, m.ID)
		}
	}
	s.mu.Unlock()

	if conversationID == "" || len(ids) == 0 {
		return
	}

	if err := s.client.Messages.MarkRead(ctx, conversationID, ids); err != nil {
		s.logf("chatsync: mark read %s: %v", conversationID, err)
		return
	}
	// Mirror over the socket so the counterpart's receipt view updates
	// without a poll; dropped while disconnected.
	if err := s.conn.MarkRead(ctx, conversationID, ids); err != nil && !errors.Is(err, ErrNotConnected) {
		s.logf("chatsync: mark read event %s: %v", conversationID, err)
	}

	s.mu.Lock()
	if s.activeID == conversationID {
		marked := make(map[string]bool, len(ids))
		for _, id := range ids {
			marked[id] = true
		}
		for i := range s.messages {
			if marked[s.messages[i].ID] {
				s.messages[i].IsRead = true
			}
		}
	}
	if cv, ok := s.index[conversationID]; ok {
		s.unreadTotal -= cv.UnreadCount
		if s.unreadTotal < 0 {
			s.unreadTotal = 0
		}
		cv.UnreadCount = 0
	}
	s.mu.Unlock()
}

// ============================================================================
// Internal helpers
// ============================================================================

func (s *Synchronizer) containsLocked(messageID string) bool {
	if messageID == "" {
		return false
	}
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			return true
		}
	}
	return false
}

func (s *Synchronizer) touchSummaryLocked(conversationID, content, timestamp string) {
	cv, ok := s.index[conversationID]
	if !ok {
		cv = &Conversation{ID: conversationID}
		s.index[conversationID] = cv
	}
	cv.LastMessage = content
	cv.LastMessageAt = timestamp
}
