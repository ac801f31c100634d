package chatsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientAttachesBearerCredential(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(APIResult{Success: true, Data: json.RawMessage(`[]`)})
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "my-token")
	if client.BaseURL() != srv.URL {
		t.Errorf("BaseURL = %s, want trailing slash trimmed", client.BaseURL())
	}

	if _, err := client.Conversations.List(context.Background(), 0, 0); err != nil {
		t.Fatalf("List: %v", err)
	}
	if gotAuth != "Bearer my-token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}

func TestClientPaginationQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(APIResult{Success: true, Data: json.RawMessage(`[]`)})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	ctx := context.Background()

	client.Messages.History(ctx, "C", 2, 50)
	if gotQuery != "limit=50&page=2" {
		t.Errorf("query = %q", gotQuery)
	}

	// Zero values omit the parameters entirely.
	client.Messages.History(ctx, "C", 0, 0)
	if gotQuery != "" {
		t.Errorf("query = %q, want empty", gotQuery)
	}
}

func TestClientErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(APIResult{
			Success: false,
			Error:   &APIError{Code: "FORBIDDEN", Message: "not a participant"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	_, err := client.Messages.Send(context.Background(), "C", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error type %T, want *APIError", err)
	}
	if apiErr.Code != "FORBIDDEN" || apiErr.Error() != "FORBIDDEN: not a participant" {
		t.Errorf("unexpected error: %v", apiErr)
	}
}

func TestUnreadTotal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/unread-count" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(APIResult{Success: true, Data: json.RawMessage(`{"count": 7}`)})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	total, err := client.Conversations.UnreadTotal(context.Background())
	if err != nil {
		t.Fatalf("UnreadTotal: %v", err)
	}
	if total != 7 {
		t.Errorf("total = %d, want 7", total)
	}
}

func TestConversationGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/conversations/C9" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(APIResult{Success: true, Data: json.RawMessage(`{"id": "C9", "unreadCount": 3}`)})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	cv, err := client.Conversations.Get(context.Background(), "C9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cv.ID != "C9" || cv.UnreadCount != 3 {
		t.Errorf("unexpected conversation: %+v", cv)
	}
}
