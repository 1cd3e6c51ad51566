package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"crewcal/internal/store"
)

func TestFeedStore(t *testing.T) {
	var hits, notModified atomic.Int32
	var failing atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if failing.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write(crlf(seriesICS))
	}))
	defer srv.Close()

	ctx := context.Background()
	s := NewFeedStore(NewFetcher(t.TempDir()), srv.URL+"/team.ics?token=secret", time.UTC)

	first, err := s.List(ctx, store.Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	second, err := s.List(ctx, store.Query{})
	if err != nil {
		t.Fatalf("List (cached): %v", err)
	}
	if len(first) != 4 || len(second) != len(first) {
		t.Errorf("events = %d then %d, want 4", len(first), len(second))
	}
	if notModified.Load() != 1 {
		t.Errorf("second fetch should be conditional, 304s = %d", notModified.Load())
	}

	failing.Store(true)
	third, err := s.List(ctx, store.Query{Text: "carol"})
	if err != nil {
		t.Fatalf("List with feed down should use cache: %v", err)
	}
	if len(third) != 1 || third[0].ID != "timed" {
		t.Errorf("text filter on cached feed = %+v", third)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d", hits.Load())
	}

	if _, err := s.Insert(ctx, store.Event{}); !errors.Is(err, store.ErrReadOnly) {
		t.Errorf("Insert = %v", err)
	}
	if _, err := s.Update(ctx, store.Event{}); !errors.Is(err, store.ErrReadOnly) {
		t.Errorf("Update = %v", err)
	}
	if err := s.Delete(ctx, "timed"); !errors.Is(err, store.ErrReadOnly) {
		t.Errorf("Delete = %v", err)
	}
}

func TestFeedStoreUnreachableWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewFeedStore(NewFetcher(t.TempDir()), srv.URL, time.UTC)
	if err := s.Probe(context.Background()); err == nil {
		t.Error("Probe should fail without a cached copy")
	}
}

func TestFeedStoreRejectedCredential(t *testing.T) {
	var revoked atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if revoked.Load() {
			http.Error(w, "token revoked", http.StatusForbidden)
			return
		}
		_, _ = w.Write(crlf(seriesICS))
	}))
	defer srv.Close()

	ctx := context.Background()
	s := NewFeedStore(NewFetcher(t.TempDir()), srv.URL+"/team.ics?token=old", time.UTC)
	if _, err := s.List(ctx, store.Query{}); err != nil {
		t.Fatalf("List: %v", err)
	}

	revoked.Store(true)
	if _, err := s.List(ctx, store.Query{}); !errors.Is(err, store.ErrUnauthorized) {
		t.Errorf("List after revocation = %v, want ErrUnauthorized despite cache", err)
	}
	if err := s.Probe(ctx); !errors.Is(err, store.ErrUnauthorized) {
		t.Errorf("Probe after revocation = %v", err)
	}
}

func TestRedactURL(t *testing.T) {
	cases := map[string]string{
		"https://example.com/private/cal.ics?token=abcd": "https://example.com/...(redacted)",
		"garbage": "ics://...(redacted)",
	}
	for in, want := range cases {
		if got := redactURL(in); got != want {
			t.Errorf("redactURL(%q) = %q, want %q", in, got, want)
		}
	}
}
