package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"crewcal/internal/model"
)

func TestMemoryCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.UTC)

	ev, err := m.Insert(ctx, Event{
		Summary: "Alice - Dune - Foreman",
		Start:   model.MustDate("2025-06-01"),
		End:     model.MustDate("2025-06-04"),
		Shared:  map[string]string{"k": "v"},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if ev.ID == "" {
		t.Fatal("Insert should assign an ID")
	}

	ev.End = model.MustDate("2025-06-05")
	if _, err := m.Update(ctx, ev); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := m.List(ctx, Query{
		TimeMin: time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC),
		TimeMax: time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].End != model.MustDate("2025-06-05") {
		t.Fatalf("List = %+v", got)
	}

	// Mutating the returned metadata must not leak into the store.
	got[0].Shared["k"] = "changed"
	again, _ := m.List(ctx, Query{})
	if again[0].Shared["k"] != "v" {
		t.Errorf("shared metadata aliased")
	}

	if err := m.Delete(ctx, ev.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(ctx, ev.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
	if _, err := m.Update(ctx, ev); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update of deleted err = %v, want ErrNotFound", err)
	}
}

func TestMemoryListWindowAndText(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.UTC)
	for _, ev := range []Event{
		{Summary: "__PERSONNEL_CONFIG__", Start: model.MustDate("2000-01-01"), End: model.MustDate("2000-01-02")},
		{Summary: "Alice - Dune - Foreman", Start: model.MustDate("2025-01-01"), End: model.MustDate("2025-01-02")},
	} {
		if _, err := m.Insert(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := m.List(ctx, Query{
		TimeMin: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		TimeMax: time.Date(2000, 1, 1, 23, 59, 59, 0, time.UTC),
		Text:    "personnel_config",
	})
	if len(got) != 1 || got[0].Summary != "__PERSONNEL_CONFIG__" {
		t.Errorf("sentinel search = %+v", got)
	}

	// An event ending (exclusively) on the window start is outside it.
	got, _ = m.List(ctx, Query{
		TimeMin: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		TimeMax: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	if len(got) != 0 {
		t.Errorf("expected no events, got %+v", got)
	}
}
