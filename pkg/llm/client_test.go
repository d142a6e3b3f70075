package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			t.Errorf("bad request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string][]string{"texts": {"hello", "hi"}})
	}))
	defer backend.Close()

	c := NewClient(backend.URL, 5*time.Second)
	out, err := c.Generate(context.Background(), "<s>user\nhi</s>")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(out) != 2 || out[0] != "hello" {
		t.Fatalf("unexpected candidates: %v", out)
	}
}

func TestGenerateBadStatus(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	c := NewClient(backend.URL, 5*time.Second)
	if _, err := c.Generate(context.Background(), "p"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestGenerateEmptyCandidates(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]string{"texts": {}})
	}))
	defer backend.Close()

	c := NewClient(backend.URL, 5*time.Second)
	if _, err := c.Generate(context.Background(), "p"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on empty result, got %v", err)
	}
}

func TestGenerateConnectionRefused(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second)
	if _, err := c.Generate(context.Background(), "p"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
