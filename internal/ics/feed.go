package ics

import (
	"context"
	"fmt"
	"time"

	"crewcal/internal/store"
)

// FeedStore is a read-only mirror of a published ICS URL. It lets the
// schedule be viewed from any calendar that exports iCalendar; writes fail
// with store.ErrReadOnly.
type FeedStore struct {
	fetcher *Fetcher
	url     string
	loc     *time.Location
}

func NewFeedStore(fetcher *Fetcher, url string, loc *time.Location) *FeedStore {
	if loc == nil {
		loc = time.Local
	}
	return &FeedStore{fetcher: fetcher, url: url, loc: loc}
}

func (s *FeedStore) List(ctx context.Context, q store.Query) ([]store.Event, error) {
	res, err := s.fetcher.Fetch(ctx, s.url)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseICS(redactURL(s.url), res.Body)
	if err != nil {
		return nil, err
	}
	return listEvents(redactURL(s.url), parsed, q, s.loc)
}

func (s *FeedStore) Insert(context.Context, store.Event) (store.Event, error) {
	return store.Event{}, fmt.Errorf("ics feed: insert: %w", store.ErrReadOnly)
}

func (s *FeedStore) Update(context.Context, store.Event) (store.Event, error) {
	return store.Event{}, fmt.Errorf("ics feed: update: %w", store.ErrReadOnly)
}

func (s *FeedStore) Delete(context.Context, string) error {
	return fmt.Errorf("ics feed: delete: %w", store.ErrReadOnly)
}

func (s *FeedStore) Probe(ctx context.Context) error {
	_, err := s.fetcher.Fetch(ctx, s.url)
	return err
}
