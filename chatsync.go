// Package chatsync is the realtime conversation synchronization client for
// the GymDesk chat backend.
//
// It maintains one persistent socket per signed-in identity, fans inbound
// server events out to any number of mounted surfaces, reconciles optimistic
// sends against server-confirmed copies, tracks room membership across
// reconnects, and mirrors read/unread and online/offline state.
//
// Example:
//
//	client := chatsync.NewClient("https://app.gymdesk.example", token)
//	bus := chatsync.NewEventBus()
//	conn := chatsync.NewConnection(client.BaseURL(), bus, nil, nil)
//	rooms := chatsync.NewRoomCoordinator(conn, bus, nil)
//	sync := chatsync.NewSynchronizer(client, conn, bus, chatsync.Identity{ID: "u-42", Role: chatsync.RoleMember}, nil)
//
//	conn.Connect(token)
//	sync.Activate(ctx, "conv-7")
//	rooms.Join(ctx, "conv-7")
//	sync.SendMessage(ctx, "See you at 6?")
package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every REST call made by the client.
const DefaultTimeout = 30 * time.Second

// ============================================================================
// Client
// ============================================================================

// Client is the REST collaborator for initial page loads and sends. The
// bearer credential is attached to every request.
type Client struct {
	credential string
	baseURL    string
	httpClient *http.Client
	logf       func(string, ...any)

	Conversations *ConversationsClient
	Messages      *MessagesClient
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithTimeout overrides the default REST timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLogf sets the sink for best-effort failure logs.
func WithLogf(logf func(string, ...any)) ClientOption {
	return func(c *Client) { c.logf = logf }
}

// NewClient creates a chat REST client for baseURL.
func NewClient(baseURL, credential string, opts ...ClientOption) *Client {
	c := &Client{
		credential: credential,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Conversations = &ConversationsClient{client: c}
	c.Messages = &MessagesClient{client: c}
	return c
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetCredential updates the bearer credential, e.g. after a token refresh.
func (c *Client) SetCredential(credential string) {
	c.credential = credential
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*APIResult, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[APIResult](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// resultErr turns an unsuccessful envelope into a typed error.
func resultErr(r *APIResult, fallback string) error {
	if r.Error != nil {
		return r.Error
	}
	return fmt.Errorf("%s", fallback)
}

func paginationQuery(page, limit int) map[string]string {
	q := map[string]string{}
	if page > 0 {
		q["page"] = fmt.Sprintf("%d", page)
	}
	if limit > 0 {
		q["limit"] = fmt.Sprintf("%d", limit)
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// ============================================================================
// Conversations
// ============================================================================

// ConversationsClient handles conversation listing and unread totals.
type ConversationsClient struct{ client *Client }

// List returns a page of the identity's conversations.
func (cv *ConversationsClient) List(ctx context.Context, page, limit int) ([]Conversation, error) {
	res, err := cv.client.do(ctx, "GET", "/api/chat/conversations", nil, paginationQuery(page, limit))
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, resultErr(res, "list conversations failed")
	}
	var conversations []Conversation
	if err := res.Decode(&conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// Get fetches one conversation by id.
func (cv *ConversationsClient) Get(ctx context.Context, conversationID string) (*Conversation, error) {
	res, err := cv.client.do(ctx, "GET", "/api/chat/conversations/"+conversationID, nil, nil)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, resultErr(res, "get conversation failed")
	}
	var conversation Conversation
	if err := res.Decode(&conversation); err != nil {
		return nil, err
	}
	return &conversation, nil
}

// UnreadTotal returns the identity's total unread message count.
func (cv *ConversationsClient) UnreadTotal(ctx context.Context) (int, error) {
	res, err := cv.client.do(ctx, "GET", "/api/chat/unread-count", nil, nil)
	if err != nil {
		return 0, err
	}
	if !res.Success {
		return 0, resultErr(res, "unread count failed")
	}
	var payload struct {
		Count int `json:"count"`
	}
	if err := res.Decode(&payload); err != nil {
		return 0, err
	}
	return payload.Count, nil
}

// ============================================================================
// Messages
// ============================================================================

// MessagesClient handles message history, sends, and read receipts.
type MessagesClient struct{ client *Client }

// History returns a page of the conversation's messages, oldest first.
func (m *MessagesClient) History(ctx context.Context, conversationID string, page, limit int) ([]Message, error) {
	res, err := m.client.do(ctx, "GET", "/api/chat/conversations/"+conversationID+"/messages", nil, paginationQuery(page, limit))
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, resultErr(res, "message history failed")
	}
	var messages []Message
	if err := res.Decode(&messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Send persists a message and returns the server copy.
func (m *MessagesClient) Send(ctx context.Context, conversationID, content string) (*Message, error) {
	res, err := m.client.do(ctx, "POST", "/api/chat/conversations/"+conversationID+"/messages",
		map[string]string{"content": content}, nil)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, resultErr(res, "send message failed")
	}
	var message Message
	if err := res.Decode(&message); err != nil {
		return nil, err
	}
	return &message, nil
}

// MarkRead marks messageIDs as read. Best-effort from the caller's
// perspective: failures are logged upstream, never retried.
func (m *MessagesClient) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	res, err := m.client.do(ctx, "POST", "/api/chat/messages/read",
		MarkReadCommand{ConversationID: conversationID, MessageIDs: messageIDs}, nil)
	if err != nil {
		return err
	}
	if !res.Success {
		return resultErr(res, "mark read failed")
	}
	return nil
}
