package conversation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-social/backend/internal/auth"
	"github.com/zhouzirui/z-social/backend/internal/model/user"
	chatservice "github.com/zhouzirui/z-social/backend/internal/service/chat"
)

const secret = "handler-test-secret"

func setupRouter(t *testing.T) *chi.Mux {
	t.Helper()
	users := user.NewMemoryStore(user.Seed())
	chatSvc := chatservice.NewService(chatservice.NewMemoryStore(), users)
	handler := New(chatSvc, auth.NewVerifier(secret, "HS256", users), nil)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func bearer(t *testing.T, userID int64) string {
	t.Helper()
	token, err := auth.IssueToken(secret, "HS256", userID, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken err: %v", err)
	}
	return "Bearer " + token
}

func do(r http.Handler, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestRetrieveCreatesThenReuses(t *testing.T) {
	r := setupRouter(t)

	resp := do(r, "/conversations/2", bearer(t, 1))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var created retrieveResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Msg != "conversation created" || created.ConversationName.ConversationName != "bob_alice" {
		t.Fatalf("unexpected body: %+v", created)
	}

	resp = do(r, "/conversations/1", bearer(t, 2))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var existing retrieveResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &existing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if existing.Msg != "conversation already exists" || existing.ConversationName.ConversationName != "bob_alice" {
		t.Fatalf("unexpected body: %+v", existing)
	}
}

func TestRetrieveUnknownUser(t *testing.T) {
	r := setupRouter(t)

	for _, path := range []string{"/conversations/99", "/conversations/bob"} {
		resp := do(r, path, bearer(t, 1))
		if resp.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.Code)
		}
	}
}

func TestListExcludesViewer(t *testing.T) {
	r := setupRouter(t)
	do(r, "/conversations/2", bearer(t, 1))
	do(r, "/conversations/3", bearer(t, 1))

	resp := do(r, "/conversations", bearer(t, 1))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var views []conversationView
	if err := json.Unmarshal(resp.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(views))
	}
	for _, v := range views {
		if len(v.Participants) != 1 || v.Participants[0].Username == "alice" {
			t.Fatalf("viewer must be excluded: %+v", v)
		}
	}

	resp = do(r, "/conversations", bearer(t, 2))
	if err := json.Unmarshal(resp.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].ConversationName != "bob_alice" {
		t.Fatalf("unexpected conversations for bob: %+v", views)
	}
}

func TestRoutesRequireToken(t *testing.T) {
	r := setupRouter(t)

	if resp := do(r, "/conversations", ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if resp := do(r, "/conversations/2", "Bearer nonsense"); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}
