package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medleyhq/medley/pkg/retry"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestClient_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Query Query `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Query.Types) != 1 || req.Query.Types[0] != "media.directory" {
			t.Errorf("query types = %v", req.Query.Types)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{{"_id": "a", "name": "Alpha"}},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RetryConfig: fastRetry()})

	var docs []map[string]any
	err := c.Query(context.Background(), Query{Types: []string{"media.directory"}}, &docs)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 || docs[0]["_id"] != "a" {
		t.Errorf("docs = %v, want one doc a", docs)
	}
}

func TestClient_Count(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CountOnly bool `json:"countOnly"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if !req.CountOnly {
			t.Error("count query should set countOnly")
		}
		json.NewEncoder(w).Encode(map[string]any{"count": 7})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RetryConfig: fastRetry()})
	count, err := c.Count(context.Background(), Query{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 7 {
		t.Errorf("count = %d, want 7", count)
	}
}

func TestClient_QueryRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"result": []any{}})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RetryConfig: fastRetry()})
	if err := c.Query(context.Background(), Query{}, nil); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
}

func TestClient_MutationsAreSingleShot(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RetryConfig: fastRetry()})
	if err := c.Create(context.Background(), map[string]any{"name": "x"}, nil); err == nil {
		t.Fatal("Create should fail")
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1 (mutations never retry)", attempts.Load())
	}
}

func TestClient_StaleRevision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
		json.NewEncoder(w).Encode(map[string]any{"error": "revision mismatch"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RetryConfig: fastRetry()})
	err := c.Patch(context.Background(), "a", Patch{IfRevisionID: "old"}, nil)
	if !errors.Is(err, ErrStaleRevision) {
		t.Errorf("error = %v, want ErrStaleRevision", err)
	}
}

func TestClient_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RetryConfig: fastRetry()})
	err := c.Patch(context.Background(), "ghost", Patch{}, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestClient_RequestErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{"error": "duplicate"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RetryConfig: fastRetry()})
	err := c.Create(context.Background(), map[string]any{}, nil)

	var rerr *RequestError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want RequestError", err)
	}
	if rerr.StatusCode != 409 || rerr.Message != "duplicate" {
		t.Errorf("RequestError = %+v, want 409/duplicate", rerr)
	}
}

func TestClient_SendsAuthToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("Authorization = %q, want Bearer sekrit", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"result": []any{}})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RetryConfig: fastRetry(), AuthToken: "sekrit"})
	if err := c.Query(context.Background(), Query{}, nil); err != nil {
		t.Fatalf("Query: %v", err)
	}
}

func TestClient_Transaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transactions" {
			t.Errorf("path = %s, want /api/v1/transactions", r.URL.Path)
		}
		var req struct {
			Mutations []Mutation `json:"mutations"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.Mutations) != 2 || !req.Mutations[1].Delete {
			t.Errorf("mutations = %+v", req.Mutations)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RetryConfig: fastRetry()})
	err := c.Transaction(context.Background(), []Mutation{
		{ID: "a", Patch: &Patch{Unset: []string{"parent"}, IfRevisionID: "r1"}},
		{ID: "b", Delete: true},
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
}
