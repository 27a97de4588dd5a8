package dbcontrol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ringbackup/sidecar/internal/errs"
)

func TestSnapshotSendsTagAndParsesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/snapshot" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["tag"] != "202601021504" {
			t.Fatalf("unexpected tag %q", body["tag"])
		}
		_ = json.NewEncoder(w).Encode(Result{Tag: body["tag"], Message: "ok"})
	}))
	defer srv.Close()

	c := NewHTTPControl(HTTPConfig{BaseURL: srv.URL, MaxRetries: 1, Timeout: 2 * time.Second})
	res, err := c.Snapshot(context.Background(), "202601021504")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if res.Tag != "202601021504" || res.Message != "ok" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRefreshSendsKeyspaceAndColumnFamily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["keyspace"] != "ks1" || body["columnFamily"] != "cf1" {
			t.Fatalf("unexpected body %+v", body)
		}
		_ = json.NewEncoder(w).Encode(Result{Message: "refreshed"})
	}))
	defer srv.Close()

	c := NewHTTPControl(HTTPConfig{BaseURL: srv.URL, MaxRetries: 1})
	res, err := c.Refresh(context.Background(), "ks1", "cf1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.Message != "refreshed" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestClientErrorIsNotRetriedAndWrapsKindDBControl(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad tag"))
	}))
	defer srv.Close()

	c := NewHTTPControl(HTTPConfig{BaseURL: srv.URL, MaxRetries: 3, Timeout: 2 * time.Second})
	_, err := c.ClearSnapshot(context.Background(), "bogus")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errs.Is(err, errs.KindDBControl) {
		t.Fatalf("expected KindDBControl, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt for a 4xx response, got %d", attempts)
	}
}
