package vocab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crewcal/internal/codec"
	appLog "crewcal/internal/log"
	"crewcal/internal/model"
	"crewcal/internal/store"
)

const (
	// SentinelTitle marks the event whose metadata holds the vocabulary.
	SentinelTitle = "__PERSONNEL_CONFIG__"
	// SharedKey is the shared-metadata key holding the JSON payload.
	SharedKey = "personnelConfig"
)

// SentinelDate is the fixed placeholder day of the sentinel event, far
// outside any real schedule window.
var SentinelDate = model.NewDate(2000, time.January, 1)

// IsSentinel reports whether ev is the vocabulary container rather than an
// assignment.
func IsSentinel(ev store.Event) bool {
	return ev.Summary == SentinelTitle
}

// Adapter persists the vocabulary inside the sentinel event. A nil store
// means "not signed in": Load returns defaults and Save does nothing.
type Adapter struct {
	st store.Store
}

func NewAdapter(st store.Store) *Adapter {
	return &Adapter{st: st}
}

// Persistent reports whether Save writes to a store.
func (a *Adapter) Persistent() bool {
	return a != nil && a.st != nil
}

// Load reads and migrates the stored vocabulary, creating the sentinel with
// defaults on first use. A missing or unreadable payload is logged and
// answered with defaults. Store failures return the defaults together with
// ErrUnavailable, or the store's ErrUnauthorized, so the caller can decide
// whether a vocabulary it already holds is better than the fallback.
func (a *Adapter) Load(ctx context.Context) (model.Vocabulary, error) {
	if a == nil || a.st == nil {
		return Default(), nil
	}

	ev, err := a.findOrCreate(ctx)
	if err != nil {
		if errors.Is(err, store.ErrUnauthorized) {
			return Default(), err
		}
		return Default(), fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	raw, ok := ev.Shared[SharedKey]
	if !ok || raw == "" {
		appLog.Warn("vocab: sentinel has no payload, using defaults", "id", ev.ID)
		return Default(), nil
	}

	v, err := Migrate([]byte(raw))
	if err != nil {
		appLog.Warn("vocab: sentinel payload unreadable, using defaults", "id", ev.ID, "err", err.Error())
		return Default(), nil
	}

	appLog.Debug("vocab loaded",
		"personnel", len(v.Personnel),
		"projects", len(v.Projects),
		"roles", len(v.Roles),
	)
	return v, nil
}

// Save writes v into the sentinel event (last write wins).
func (a *Adapter) Save(ctx context.Context, v model.Vocabulary) error {
	if a == nil || a.st == nil {
		appLog.Warn("vocab: not signed in, configuration not saved")
		return nil
	}

	payload, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("vocab: encode: %w", err)
	}

	ev, err := a.findOrCreate(ctx)
	if err != nil {
		return err
	}
	if ev.Shared == nil {
		ev.Shared = map[string]string{}
	}
	ev.Shared[SharedKey] = payload

	if _, err := a.st.Update(ctx, ev); err != nil {
		return fmt.Errorf("vocab: save sentinel %s: %w", ev.ID, err)
	}
	return nil
}

func (a *Adapter) findOrCreate(ctx context.Context) (store.Event, error) {
	day := SentinelDate.In(time.UTC)
	events, err := a.st.List(ctx, store.Query{
		TimeMin: day,
		TimeMax: day.Add(24*time.Hour - time.Second),
		Text:    SentinelTitle,
	})
	if err != nil {
		return store.Event{}, fmt.Errorf("vocab: search sentinel: %w", err)
	}

	// Text search is only a hint; match the title exactly.
	for _, ev := range events {
		if IsSentinel(ev) {
			return ev, nil
		}
	}

	payload, err := Marshal(Default())
	if err != nil {
		return store.Event{}, err
	}
	start, end := codec.ToStoreSpan(SentinelDate, SentinelDate)
	created, err := a.st.Insert(ctx, store.Event{
		Summary: SentinelTitle,
		Start:   start,
		End:     end,
		AllDay:  true,
		Shared:  map[string]string{SharedKey: payload},
	})
	if err != nil {
		return store.Event{}, fmt.Errorf("vocab: create sentinel: %w", err)
	}
	appLog.Info("vocab: created sentinel event with defaults", "id", created.ID)
	return created, nil
}
