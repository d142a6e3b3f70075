package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"dialogd/pkg/llm"
	"dialogd/pkg/prompt"
	"dialogd/pkg/store"
)

type fakeGenerator struct {
	candidates []string
	err        error
	lastPrompt string
}

func (f *fakeGenerator) Generate(_ context.Context, p string) ([]string, error) {
	f.lastPrompt = p
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

func setupServer(t *testing.T, gen *fakeGenerator) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), "You are a helpful assistant.")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	r := mux.NewRouter()
	Register(r, Deps{
		Store:       st,
		Gen:         gen,
		Tmpl:        prompt.Default(),
		ContextSize: 20,
		MaxTokens:   4096,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	out := map[string]json.RawMessage{}
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res, out
}

func str(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("expected string, got %s", raw)
	}
	return s
}

func TestCreateUserLifecycle(t *testing.T) {
	srv, _ := setupServer(t, &fakeGenerator{candidates: []string{"hi"}})

	res, _ := doJSON(t, "POST", srv.URL+"/v1/users", map[string]string{"user_id": "alice", "channel_id": "chan-1"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, "POST", srv.URL+"/v1/users", map[string]string{"user_id": "alice"})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate create: expected 409, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, "POST", srv.URL+"/v1/users", map[string]string{"user_id": "bad:id"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid id: expected 400, got %d", res.StatusCode)
	}

	// lookup by id and by channel
	res, _ = doJSON(t, "GET", srv.URL+"/v1/users/alice", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get by id: expected 200, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, "GET", srv.URL+"/v1/users/chan-1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get by channel id: expected 200, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, "GET", srv.URL+"/v1/users/ghost", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown user: expected 404, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, "DELETE", srv.URL+"/v1/users/alice", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, "GET", srv.URL+"/v1/users/alice", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("after delete: expected 404, got %d", res.StatusCode)
	}
}

func TestFindOrCreateUserIdempotent(t *testing.T) {
	srv, _ := setupServer(t, &fakeGenerator{candidates: []string{"hi"}})

	res, body := doJSON(t, "PUT", srv.URL+"/v1/users", map[string]string{"user_id": "bob", "username": "Bob"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first upsert: expected 200, got %d", res.StatusCode)
	}
	if got := str(t, body["username"]); got != "Bob" {
		t.Fatalf("username: %q", got)
	}

	// second call returns the stored record unchanged
	res, body = doJSON(t, "PUT", srv.URL+"/v1/users", map[string]string{"user_id": "bob", "username": "Robert"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second upsert: expected 200, got %d", res.StatusCode)
	}
	if got := str(t, body["username"]); got != "Bob" {
		t.Fatalf("existing username must not change, got %q", got)
	}
}

func TestGenerateAndResolveByChoice(t *testing.T) {
	gen := &fakeGenerator{candidates: []string{"hello", "hey there", "hi"}}
	srv, _ := setupServer(t, gen)

	res, _ := doJSON(t, "POST", srv.URL+"/v1/users", map[string]string{"user_id": "alice"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d", res.StatusCode)
	}

	res, body := doJSON(t, "POST", srv.URL+"/v1/users/alice/context/generate", map[string]string{"text": "greet me"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("generate: expected 200, got %d", res.StatusCode)
	}
	answerID := str(t, body["answer_id"])
	if answerID == "" {
		t.Fatalf("missing answer_id in %v", body)
	}
	if !strings.Contains(gen.lastPrompt, "<s>user\ngreet me</s>") {
		t.Fatalf("prompt missing user turn: %q", gen.lastPrompt)
	}
	if !strings.HasSuffix(gen.lastPrompt, "<s>bot") {
		t.Fatalf("prompt missing generation suffix: %q", gen.lastPrompt)
	}

	url := srv.URL + "/v1/users/alice/context/" + answerID
	res, _ = doJSON(t, "POST", url+"/candidate_ids", map[string][]string{"candidate_ids": {"c1", "c2", "c3"}})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("candidate_ids: expected 200, got %d", res.StatusCode)
	}

	res, body = doJSON(t, "POST", url+"/choice", map[string]string{"chosen_id": "c2"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("choice: expected 200, got %d", res.StatusCode)
	}
	if got := str(t, body["text"]); got != "hey there" {
		t.Fatalf("expected canonical text, got %q", got)
	}

	// terminal: a second resolution conflicts
	res, _ = doJSON(t, "POST", url+"/choice", map[string]string{"chosen_id": "c1"})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("re-resolve: expected 409, got %d", res.StatusCode)
	}

	// unknown chosen id on a fresh answer is a bad request
	res, body = doJSON(t, "POST", srv.URL+"/v1/users/alice/context/generate", map[string]string{"text": "again"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second generate: %d", res.StatusCode)
	}
	answerID = str(t, body["answer_id"])
	url = srv.URL + "/v1/users/alice/context/" + answerID
	if res, _ = doJSON(t, "POST", url+"/candidate_ids", map[string][]string{"candidate_ids": {"x1", "x2", "x3"}}); res.StatusCode != http.StatusOK {
		t.Fatalf("candidate_ids: %d", res.StatusCode)
	}
	res, _ = doJSON(t, "POST", url+"/choice", map[string]string{"chosen_id": "nope"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid choice: expected 400, got %d", res.StatusCode)
	}
}

func TestResolveByCustomAnswer(t *testing.T) {
	gen := &fakeGenerator{candidates: []string{"hello", "hi"}}
	srv, _ := setupServer(t, gen)
	doJSON(t, "POST", srv.URL+"/v1/users", map[string]string{"user_id": "alice"})

	res, body := doJSON(t, "POST", srv.URL+"/v1/users/alice/context/generate", map[string]string{"text": "hi"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("generate: %d", res.StatusCode)
	}
	answerID := str(t, body["answer_id"])

	res, body = doJSON(t, "POST", srv.URL+"/v1/users/alice/context/custom_answer",
		map[string]string{"message_id": answerID, "custom_text": "my own words"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("custom: expected 200, got %d", res.StatusCode)
	}
	if got := str(t, body["text"]); got != "my own words" {
		t.Fatalf("custom text echo mismatch: %q", got)
	}

	res, _ = doJSON(t, "POST", srv.URL+"/v1/users/alice/context/custom_answer",
		map[string]string{"message_id": answerID, "custom_text": "too late"})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("re-resolve custom: expected 409, got %d", res.StatusCode)
	}
}

func TestResolveByCustomViaCandidateMarker(t *testing.T) {
	gen := &fakeGenerator{candidates: []string{"hello", "hi"}}
	srv, _ := setupServer(t, gen)
	doJSON(t, "POST", srv.URL+"/v1/users", map[string]string{"user_id": "alice"})

	res, body := doJSON(t, "POST", srv.URL+"/v1/users/alice/context/generate", map[string]string{"text": "hi"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("generate: %d", res.StatusCode)
	}
	answerID := str(t, body["answer_id"])
	url := srv.URL + "/v1/users/alice/context/" + answerID
	if res, _ = doJSON(t, "POST", url+"/candidate_ids", map[string][]string{"candidate_ids": {"ext-1", "ext-2"}}); res.StatusCode != http.StatusOK {
		t.Fatalf("candidate_ids: %d", res.StatusCode)
	}

	res, _ = doJSON(t, "POST", srv.URL+"/v1/users/alice/context/custom_answer",
		map[string]string{"message_id": "ext-2", "custom_text": "picked via marker"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("custom via marker: expected 200, got %d", res.StatusCode)
	}
}

func TestGenerateBackendDown(t *testing.T) {
	gen := &fakeGenerator{err: fmt.Errorf("%w: connection refused", llm.ErrUnavailable)}
	srv, st := setupServer(t, gen)
	doJSON(t, "POST", srv.URL+"/v1/users", map[string]string{"user_id": "alice"})

	res, _ := doJSON(t, "POST", srv.URL+"/v1/users/alice/context/generate", map[string]string{"text": "hi"})
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", res.StatusCode)
	}

	// a failed generation persists nothing
	u, err := st.GetUser("alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(u.Context) != 0 {
		t.Fatalf("failed generation left %d messages", len(u.Context))
	}
}

func TestGenerateBudgetUnsatisfiable(t *testing.T) {
	st, err := store.Open(t.TempDir(), strings.Repeat("a very long policy ", 200))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	r := mux.NewRouter()
	Register(r, Deps{
		Store:       st,
		Gen:         &fakeGenerator{candidates: []string{"hi"}},
		Tmpl:        prompt.Default(),
		ContextSize: 20,
		MaxTokens:   8,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	doJSON(t, "POST", srv.URL+"/v1/users", map[string]string{"user_id": "alice"})
	res, _ := doJSON(t, "POST", srv.URL+"/v1/users/alice/context/generate", map[string]string{"text": "hi"})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.StatusCode)
	}
}

func TestGetAndClearContext(t *testing.T) {
	gen := &fakeGenerator{candidates: []string{"hello"}}
	srv, _ := setupServer(t, gen)
	doJSON(t, "POST", srv.URL+"/v1/users", map[string]string{"user_id": "alice"})
	doJSON(t, "POST", srv.URL+"/v1/users/alice/context/generate", map[string]string{"text": "hi"})

	res, body := doJSON(t, "GET", srv.URL+"/v1/users/alice/context?limit=10", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get context: %d", res.StatusCode)
	}
	var msgs []json.RawMessage
	if err := json.Unmarshal(body["messages"], &msgs); err != nil {
		t.Fatalf("bad messages payload: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user+answer pair, got %d", len(msgs))
	}

	res, _ = doJSON(t, "GET", srv.URL+"/v1/users/alice/context?limit=zero", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, "DELETE", srv.URL+"/v1/users/alice/context", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("clear: %d", res.StatusCode)
	}
	res, body = doJSON(t, "GET", srv.URL+"/v1/users/alice/context", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get after clear: %d", res.StatusCode)
	}
	msgs = nil
	_ = json.Unmarshal(body["messages"], &msgs)
	if len(msgs) != 0 {
		t.Fatalf("expected empty window after clear, got %d", len(msgs))
	}
}

func TestListUsers(t *testing.T) {
	srv, _ := setupServer(t, &fakeGenerator{candidates: []string{"hi"}})
	doJSON(t, "POST", srv.URL+"/v1/users", map[string]string{"user_id": "alice", "channel_id": "chan-1"})
	doJSON(t, "POST", srv.URL+"/v1/users", map[string]string{"user_id": "bob"})

	res, body := doJSON(t, "GET", srv.URL+"/v1/users", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", res.StatusCode)
	}
	var users []json.RawMessage
	if err := json.Unmarshal(body["users"], &users); err != nil || len(users) != 2 {
		t.Fatalf("expected 2 users, got %s (err %v)", body["users"], err)
	}

	res, body = doJSON(t, "GET", srv.URL+"/v1/users?channel=chan-1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list by channel: %d", res.StatusCode)
	}
	users = nil
	if err := json.Unmarshal(body["users"], &users); err != nil || len(users) != 1 {
		t.Fatalf("expected 1 user for channel, got %s", body["users"])
	}
}
