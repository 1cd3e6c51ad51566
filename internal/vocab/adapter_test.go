package vocab

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"crewcal/internal/model"
	"crewcal/internal/store"
)

// failing wraps a store and returns err from every call.
type failing struct {
	store.Store
	err error
}

func (f failing) List(context.Context, store.Query) ([]store.Event, error) { return nil, f.err }
func (f failing) Insert(context.Context, store.Event) (store.Event, error) {
	return store.Event{}, f.err
}
func (f failing) Update(context.Context, store.Event) (store.Event, error) {
	return store.Event{}, f.err
}

func sentinels(t *testing.T, st *store.Memory) []store.Event {
	t.Helper()
	all, err := st.List(context.Background(), store.Query{})
	if err != nil {
		t.Fatal(err)
	}
	var out []store.Event
	for _, ev := range all {
		if IsSentinel(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func TestLoadCreatesSentinelOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	a := NewAdapter(st)

	v, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(v, Default()) {
		t.Errorf("first Load = %+v, want defaults", v)
	}

	got := sentinels(t, st)
	if len(got) != 1 {
		t.Fatalf("sentinels = %d, want 1", len(got))
	}
	ev := got[0]
	if ev.Start != SentinelDate || ev.End != SentinelDate.AddDays(1) || !ev.AllDay {
		t.Errorf("sentinel span = %s..%s allDay=%v", ev.Start, ev.End, ev.AllDay)
	}
	if ev.Shared[SharedKey] == "" {
		t.Errorf("sentinel has no payload")
	}

	if _, err := a.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(sentinels(t, st)); n != 1 {
		t.Errorf("second Load created another sentinel, have %d", n)
	}
}

func TestSaveThenLoad(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	a := NewAdapter(st)

	want := model.Vocabulary{
		Personnel: []string{"Alice", "Bob"},
		Projects:  []string{"Dune"},
		Roles:     []model.Role{{Name: "Foreman", Color: "#ea4335"}},
	}
	if err := a.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := NewAdapter(st).Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
	if n := len(sentinels(t, st)); n != 1 {
		t.Errorf("sentinels = %d", n)
	}
}

func TestLoadMigratesLegacyPayload(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	start, end := SentinelDate, SentinelDate.AddDays(1)
	_, _ = st.Insert(ctx, store.Event{
		Summary: SentinelTitle,
		Start:   start,
		End:     end,
		Shared:  map[string]string{SharedKey: `{"people":["Alice"],"projects":[],"roles":["A","B"]}`},
	})

	v, err := NewAdapter(st).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Personnel) != 1 || v.Personnel[0] != "Alice" {
		t.Errorf("Personnel = %v", v.Personnel)
	}
	if len(v.Roles) != 2 || v.Roles[1].Color != "#ea4335" {
		t.Errorf("Roles = %+v", v.Roles)
	}
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()

	st := store.NewMemory(time.UTC)
	_, _ = st.Insert(ctx, store.Event{
		Summary: SentinelTitle,
		Start:   SentinelDate,
		End:     SentinelDate.AddDays(1),
		Shared:  map[string]string{SharedKey: "{broken"},
	})
	v, err := NewAdapter(st).Load(ctx)
	if err != nil || !reflect.DeepEqual(v, Default()) {
		t.Errorf("bad payload: %+v, %v", v, err)
	}

	v, err = NewAdapter(failing{err: errors.New("network down")}).Load(ctx)
	if !errors.Is(err, ErrUnavailable) || !reflect.DeepEqual(v, Default()) {
		t.Errorf("store failure: %+v, %v", v, err)
	}
	if errors.Is(err, store.ErrUnauthorized) {
		t.Errorf("store failure reported as unauthorized: %v", err)
	}
}

func TestLoadReportsUnauthorized(t *testing.T) {
	v, err := NewAdapter(failing{err: store.ErrUnauthorized}).Load(context.Background())
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if !reflect.DeepEqual(v, Default()) {
		t.Errorf("vocabulary should still be the defaults")
	}
}

func TestSignedOutAdapter(t *testing.T) {
	a := NewAdapter(nil)
	v, err := a.Load(context.Background())
	if err != nil || !reflect.DeepEqual(v, Default()) {
		t.Errorf("Load without store = %+v, %v", v, err)
	}
	if err := a.Save(context.Background(), Default()); err != nil {
		t.Errorf("Save without store = %v", err)
	}
}

func TestSaveSurfacesStoreErrors(t *testing.T) {
	err := NewAdapter(failing{err: store.ErrUnauthorized}).Save(context.Background(), Default())
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Errorf("Save err = %v", err)
	}
}
