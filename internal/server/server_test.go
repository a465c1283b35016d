package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"gigboard/internal/config"
	"gigboard/internal/db"
	"gigboard/internal/engine"
	"gigboard/internal/migrate"
	"gigboard/internal/notify"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("campus")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := e.Repo.UpsertMarketplaceConfig(context.Background(), cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		Inbox:    notify.NewInbox(),
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:             "test-secret",
			AllowLegacyUserHeader: true,
			DevLogin:              true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asUser(id string) map[string]string {
	return map[string]string{"X-User-Id": id}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
		"title":    "Move boxes",
		"price":    2000,
		"location": "north dorm",
	}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create job: %d %s", res.StatusCode, string(data))
	}
	var job JobResponse
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if job.Status != "open" {
		t.Fatalf("expected open, got %s", job.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+job.ID+"/apply", nil, asUser("bob"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("apply: %d %s", res.StatusCode, string(data))
	}
	var conv ConversationResponse
	_ = json.Unmarshal(data, &conv)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+job.ID+"/assign", map[string]any{
		"worker_id": "bob",
	}, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign: %d %s", res.StatusCode, string(data))
	}
	var assigned JobResponse
	_ = json.Unmarshal(data, &assigned)
	if assigned.Status != "in_progress" || assigned.AssignedWorkerID == nil || *assigned.AssignedWorkerID != "bob" {
		t.Fatalf("expected in_progress bound to bob, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/jobs/"+job.ID+"/status", map[string]any{
		"status": "completed",
	}, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}

	// the assignment left a system notice in bob's thread
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/conversations/"+conv.ID+"/messages", nil, asUser("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("messages: %d %s", res.StatusCode, string(data))
	}
	var msgs []MessageResponse
	if err := json.Unmarshal(data, &msgs); err != nil {
		t.Fatal(err)
	}
	kinds := map[string]bool{}
	for _, m := range msgs {
		kinds[m.Kind] = true
	}
	if !kinds["system_assigned"] || !kinds["system_completed"] {
		t.Fatalf("expected lifecycle notices, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+job.ID+"/ratings", map[string]any{
		"rating":    5,
		"direction": "poster_to_helper",
	}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("rating: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+job.ID+"/ratings", map[string]any{
		"rating":    4,
		"direction": "poster_to_helper",
	}, asUser("alice"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on repeat rating, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "already_rated" {
		t.Fatalf("expected already_rated, got %s", code)
	}
}

func TestTransitionConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
		"title":    "Quick errand",
		"location": "cafeteria",
	}, asUser("alice"))
	var job JobResponse
	_ = json.Unmarshal(data, &job)

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/jobs/"+job.ID+"/status", map[string]any{
		"status": "completed",
	}, asUser("alice"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for complete from open, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %s", code)
	}
}

func TestDomainValidationIs422(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
		"title":    "   ",
		"location": "gym",
	}, asUser("alice"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for blank title, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "validation_failed" {
		t.Fatalf("expected validation_failed, got %s", code)
	}

	// schema violations are 400, not 422
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
		"title":    "Negative",
		"location": "gym",
		"price":    -5,
	}, asUser("alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for schema violation, got %d %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d %s", res.StatusCode, string(data))
	}

	// health stays open
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d", res.StatusCode)
	}
}

func TestDevLoginAndBearer(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"user_id": "alice",
		"email":   "alice@example.edu",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login map[string]string
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatal(err)
	}
	token := login["token"]
	if token == "" {
		t.Fatalf("expected a token, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bearer list jobs: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/keys", map[string]any{
		"name": "laptop",
	}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(key.Key, "gbk_") {
		t.Fatalf("expected plaintext key in create response, got %q", key.Key)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/keys", nil, map[string]string{
		"X-Api-Key": key.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list keys via api key: %d %s", res.StatusCode, string(data))
	}
	var keys []APIKeyResponse
	if err := json.Unmarshal(data, &keys); err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0].Key != "" {
		t.Fatalf("plaintext must not be listed, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/keys/"+key.ID, nil, asUser("bob"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 revoking someone else's key, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/keys/"+key.ID, nil, asUser("alice"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke: %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/keys", nil, map[string]string{
		"X-Api-Key": key.Key,
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after revocation, got %d", res.StatusCode)
	}
}

func TestInboxDigestOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
		"title":    "Feed the cat",
		"location": "west hall",
	}, asUser("alice"))
	var job JobResponse
	_ = json.Unmarshal(data, &job)

	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+job.ID+"/apply", nil, asUser("bob"))
	var conv ConversationResponse
	_ = json.Unmarshal(data, &conv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/conversations/"+conv.ID+"/messages", map[string]any{
		"content": "I can do it tonight",
	}, asUser("bob"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("send message: %d %s", res.StatusCode, string(data))
	}

	// the digest is fed by the bus; give the aggregator a moment
	var inbox InboxResponse
	deadline := time.Now().Add(2 * time.Second)
	for {
		res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me/inbox", nil, asUser("alice"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("inbox: %d %s", res.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &inbox); err != nil {
			t.Fatal(err)
		}
		if inbox.Unread > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if inbox.Unread != 1 || len(inbox.Entries) != 1 {
		t.Fatalf("expected one unread entry, got %s", string(data))
	}
	if inbox.Entries[0].Preview != "I can do it tonight" {
		t.Fatalf("unexpected preview %q", inbox.Entries[0].Preview)
	}

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v1/me/inbox/read", nil, asUser("alice"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("mark read: %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me/inbox?full=true", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("inbox after read: %d %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &inbox); err != nil {
		t.Fatal(err)
	}
	if inbox.Unread != 0 {
		t.Fatalf("expected 0 unread after mark read, got %d", inbox.Unread)
	}
	if len(inbox.Threads) != 1 || inbox.Threads[0].LastMessage.Content != "I can do it tonight" {
		t.Fatalf("expected the full thread view, got %s", string(data))
	}
}

func TestJobListPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for i := 0; i < 5; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
			"title":    "Job " + string(rune('A'+i)),
			"location": "quad",
		}, asUser("alice"))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %d: %d %s", i, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs?limit=2", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("page 1: %d %s", res.StatusCode, string(data))
	}
	var page paginatedJobs
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected 2 items and a cursor, got %s", string(data))
	}

	seen := map[string]bool{}
	for _, j := range page.Items {
		seen[j.ID] = true
	}
	cursor := page.NextCursor
	total := len(page.Items)
	for cursor != "" {
		res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs?limit=2&cursor="+cursor, nil, asUser("alice"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("page: %d %s", res.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &page); err != nil {
			t.Fatal(err)
		}
		for _, j := range page.Items {
			if seen[j.ID] {
				t.Fatalf("job %s returned twice", j.ID)
			}
			seen[j.ID] = true
		}
		total += len(page.Items)
		cursor = page.NextCursor
	}
	if total != 5 {
		t.Fatalf("expected 5 jobs across pages, got %d", total)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/config", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get config: %d %s", res.StatusCode, string(data))
	}
	var resp MarketplaceConfigResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Config == nil || resp.Config.Marketplace.Name != "campus" {
		t.Fatalf("unexpected config %s", string(data))
	}

	yml := config.GenerateDefault("eastside")
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/v1/config", strings.NewReader(yml))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/yaml")
	req.Header.Set("X-User-Id", "alice")
	putRes, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(putRes.Body)
	putRes.Body.Close()
	if putRes.StatusCode != http.StatusOK {
		t.Fatalf("put config: %d %s", putRes.StatusCode, string(body))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/config", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get config after import: %d %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Config.Marketplace.Name != "eastside" {
		t.Fatalf("expected imported name, got %s", string(data))
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
		"title":    "Evented",
		"location": "lab",
	}, asUser("alice"))
	var job JobResponse
	_ = json.Unmarshal(data, &job)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?type=job.created", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EntityID != job.ID {
		t.Fatalf("expected the job.created event, got %s", string(data))
	}
}
