package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"crewcal/internal/auth"
	"crewcal/internal/calsync"
	"crewcal/internal/config"
	"crewcal/internal/ics"
	appLog "crewcal/internal/log"
	"crewcal/internal/store"
	"crewcal/internal/store/gcal"
)

// newBackend builds the connector for the configured store. The provider is
// nil for backends without sign-in.
func newBackend(rootCtx context.Context, conf *config.Config, loc *time.Location) (calsync.Connector, *auth.Provider, error) {
	switch conf.Backend {
	case config.BackendGoogle:
		if conf.Google.ClientID == "" || conf.Google.ClientSecret == "" {
			return nil, nil, errors.New("google backend needs google.client_id and a client secret")
		}
		provider := auth.NewProvider(auth.Config{
			ClientID:     conf.Google.ClientID,
			ClientSecret: conf.Google.ClientSecret,
			RedirectURL:  conf.Google.RedirectURL,
			TokenCache:   conf.Google.TokenCache,
		})
		calendarID := conf.Google.CalendarID
		connector := calsync.ConnectorFunc(func(_ context.Context, tok *oauth2.Token) (store.Store, error) {
			if tok == nil {
				return nil, fmt.Errorf("%w: no token", store.ErrUnauthorized)
			}
			// Refreshes outlive the sign-in request, so they use the root
			// context.
			ts := provider.TokenSource(rootCtx, tok)
			return gcal.New(rootCtx, calendarID, loc, option.WithTokenSource(ts))
		})
		appLog.Info("backend: google calendar", "calendar_id", calendarID)
		return connector, provider, nil

	case config.BackendICS:
		if conf.ICS.URL != "" {
			feed := ics.NewFeedStore(ics.NewFetcher(conf.ICS.CacheDir), conf.ICS.URL, loc)
			appLog.Info("backend: read-only ics feed", "cache_dir", conf.ICS.CacheDir)
			return staticConnector(feed), nil, nil
		}
		appLog.Info("backend: ics file", "path", conf.ICS.Path)
		return staticConnector(ics.NewFileStore(conf.ICS.Path, loc)), nil, nil

	default:
		appLog.Warn("backend: in-memory store, nothing is persisted")
		return staticConnector(store.NewMemory(loc)), nil, nil
	}
}

func staticConnector(st store.Store) calsync.Connector {
	return calsync.ConnectorFunc(func(context.Context, *oauth2.Token) (store.Store, error) {
		return st, nil
	})
}
