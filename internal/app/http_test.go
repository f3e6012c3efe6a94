package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"leaflet/api/internal/authpw"
	"leaflet/api/internal/store"

	"golang.org/x/crypto/bcrypt"
)

func newTestServer(fs *fakeStore) *httptest.Server {
	service := New(testConfig(), fs, nil, authpw.NewService(fs), nil, nil)
	return httptest.NewServer(NewHTTPServer(service, "http://localhost:3000", nil).Handler())
}

func bearerFor(t *testing.T, server *httptest.Server, fs *fakeStore, userID string) string {
	t.Helper()
	service := New(testConfig(), fs, nil, nil, nil, nil)
	session, err := service.issueSession(context.Background(), store.User{ID: userID, DisplayName: "Tester"})
	if err != nil {
		t.Fatalf("issueSession() error = %v", err)
	}
	return session.Token
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, payload
}

func TestHealth(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if payload["ok"] != true {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestNotesRequireBearerToken(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/notes", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("unexpected error payload: %v", payload)
	}

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/api/notes", "not-a-real-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a garbage token, got %d", resp.StatusCode)
	}
}

func TestSignUpAndSignInFlow(t *testing.T) {
	var mu sync.Mutex
	users := map[string]store.User{}
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) error {
			mu.Lock()
			defer mu.Unlock()
			users[user.Email] = user
			return nil
		},
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			mu.Lock()
			defer mu.Unlock()
			if user, ok := users[email]; ok {
				return user, nil
			}
			return store.User{}, sql.ErrNoRows
		},
	}
	server := newTestServer(fs)
	defer server.Close()

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/auth/signup", "", map[string]any{
		"email":       "ada@example.com",
		"password":    "correct-horse",
		"displayName": "Ada",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d (%v)", resp.StatusCode, payload)
	}
	if payload["token"] == "" || payload["refreshToken"] == "" {
		t.Fatalf("signup: expected a session, got %v", payload)
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/auth/signup", "", map[string]any{
		"email":       "ada@example.com",
		"password":    "another-pass",
		"displayName": "Ada Again",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate signup: expected 409, got %d (%v)", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]any{
		"email":    "ada@example.com",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad signin: expected 401, got %d (%v)", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]any{
		"email":    "ada@example.com",
		"password": "correct-horse",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin: expected 200, got %d (%v)", resp.StatusCode, payload)
	}
	token, _ := payload["token"].(string)

	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/session", token, nil)
	if resp.StatusCode != http.StatusOK || payload["authenticated"] != true {
		t.Fatalf("session info: got %d %v", resp.StatusCode, payload)
	}
}

func TestGetMissingNoteIs404(t *testing.T) {
	fs := &fakeStore{}
	server := newTestServer(fs)
	defer server.Close()
	token := bearerFor(t, server, fs, "user-1")

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/notes/note-missing", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if payload["code"] != "NOT_FOUND" || payload["error"] != "note not found" {
		t.Fatalf("unexpected error envelope: %v", payload)
	}
}

func TestCreateNoteValidationEnvelope(t *testing.T) {
	fs := &fakeStore{}
	server := newTestServer(fs)
	defer server.Close()
	token := bearerFor(t, server, fs, "user-1")

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/notes", token, map[string]any{
		"title": "   ",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error envelope: %v", payload)
	}
}

func TestCreateNoteReturnsTree(t *testing.T) {
	fs := &fakeStore{}
	server := newTestServer(fs)
	defer server.Close()
	token := bearerFor(t, server, fs, "user-1")

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/notes", token, map[string]any{
		"title": "Trip",
		"tags":  []string{"travel"},
		"blocks": []map[string]any{
			{"type": "heading", "content": "Day one", "properties": map[string]any{"level": 2}, "children": []map[string]any{
				{"type": "text", "content": "pack"},
			}},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", resp.StatusCode, payload)
	}

	blocks, ok := payload["blocks"].([]any)
	if !ok || len(blocks) != 1 {
		t.Fatalf("expected one root block, got %v", payload["blocks"])
	}
	root := blocks[0].(map[string]any)
	if root["type"] != "heading" || root["level"] != float64(0) {
		t.Fatalf("unexpected root block: %v", root)
	}
	children := root["children"].([]any)
	if len(children) != 1 {
		t.Fatalf("expected one child, got %v", root["children"])
	}
	child := children[0].(map[string]any)
	if child["type"] != "text" || child["level"] != float64(1) {
		t.Fatalf("unexpected child block: %v", child)
	}

	capabilities, ok := payload["access"].(map[string]any)
	if !ok || capabilities["canEdit"] != true || capabilities["canShare"] != true {
		t.Fatalf("expected owner capabilities, got %v", payload["access"])
	}
}

func TestListNotesQueryParams(t *testing.T) {
	var captured store.NoteFilter
	fs := &fakeStore{
		listNotesForUserFn: func(_ context.Context, _ string, filter store.NoteFilter) ([]store.Note, int, error) {
			captured = filter
			return nil, 0, nil
		},
	}
	server := newTestServer(fs)
	defer server.Close()
	token := bearerFor(t, server, fs, "user-1")

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/api/notes?page=2&limit=5&search=plan&tags=work,travel&sortBy=title&sortOrder=asc", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !captured.Paginated || captured.Page != 2 || captured.Limit != 5 {
		t.Fatalf("unexpected filter: %+v", captured)
	}
	if captured.Search != "plan" || len(captured.Tags) != 2 {
		t.Fatalf("unexpected filter: %+v", captured)
	}
	if captured.SortBy != "title" || captured.SortOrder != "asc" {
		t.Fatalf("unexpected filter: %+v", captured)
	}

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/notes?page=two", token, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 for a bad page, got %d %v", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/notes", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if _, hasPagination := payload["pagination"]; hasPagination {
		t.Fatal("bare list must stay unpaginated")
	}
}

func TestReorderRouteRejectsForeignBlock(t *testing.T) {
	fs := &fakeStore{
		getNoteFn: ownedNote("note-1", "user-1"),
		listBlocksFn: func(context.Context, string) ([]store.Block, error) {
			return []store.Block{{ID: "blk-1", NoteID: "note-1"}}, nil
		},
	}
	server := newTestServer(fs)
	defer server.Close()
	token := bearerFor(t, server, fs, "user-1")

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/notes/note-1/blocks/reorder", token, map[string]any{
		"blocks": []map[string]any{{"id": "blk-other", "position": 0}},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 VALIDATION_ERROR, got %d %v", resp.StatusCode, payload)
	}
}

func TestSessionRefreshRoute(t *testing.T) {
	var mu sync.Mutex
	sessions := map[string]string{}
	passwordHash, _ := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.DefaultCost)
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			if email == "ada@example.com" {
				return store.User{ID: "user-1", Email: email, DisplayName: "Ada", PasswordHash: string(passwordHash)}, nil
			}
			return store.User{}, sql.ErrNoRows
		},
		saveRefreshFn: func(_ context.Context, hash, userID string, _ time.Time) error {
			mu.Lock()
			defer mu.Unlock()
			sessions[hash] = userID
			return nil
		},
		lookupRefreshFn: func(_ context.Context, hash string) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			if userID, ok := sessions[hash]; ok {
				return userID, nil
			}
			return "", sql.ErrNoRows
		},
		revokeRefreshFn: func(_ context.Context, hash string) error {
			mu.Lock()
			defer mu.Unlock()
			delete(sessions, hash)
			return nil
		},
	}
	server := newTestServer(fs)
	defer server.Close()

	_, payload := doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]any{
		"email":    "ada@example.com",
		"password": "correct-horse",
	})
	refreshToken, _ := payload["refreshToken"].(string)
	if refreshToken == "" {
		t.Fatalf("signin did not return a refresh token: %v", payload)
	}

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/session/refresh", "", map[string]any{
		"refreshToken": refreshToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d (%v)", resp.StatusCode, payload)
	}
	rotated, _ := payload["refreshToken"].(string)
	if rotated == "" || rotated == refreshToken {
		t.Fatal("refresh must rotate the token")
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/session/refresh", "", map[string]any{
		"refreshToken": refreshToken,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("stale refresh: expected 401, got %d (%v)", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/session/logout", "", map[string]any{
		"refreshToken": rotated,
	})
	if resp.StatusCode != http.StatusOK || payload["ok"] != true {
		t.Fatalf("logout: got %d %v", resp.StatusCode, payload)
	}
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/session/refresh", "", map[string]any{
		"refreshToken": rotated,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", resp.StatusCode)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/unknown", "", nil)
	if resp.StatusCode != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d %v", resp.StatusCode, payload)
	}
}
