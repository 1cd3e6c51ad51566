package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"crewcal/internal/auth"
	"crewcal/internal/calsync"
	"crewcal/internal/capture"
	"crewcal/internal/config"
	appLog "crewcal/internal/log"
	"crewcal/internal/web"
)

const version = "0.3.0"

// flagConfig holds CLI flag values; they override the config file.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()
	appLog.Info("crewcal starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		if conf == nil {
			appLog.Error("failed to load config", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		// First run could not write the default file; carry on with defaults.
		appLog.Warn("could not write default config", "config_path", flags.configPath, "err", err.Error())
	}

	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.LogLevel = "debug"
		conf.LogFormat = "console"
	}
	appLog.Setup(conf.LogLevel, conf.LogFormat)

	loc, err := conf.Location()
	if err != nil {
		appLog.Warn("unknown timezone, using local", "timezone", conf.Timezone, "err", err.Error())
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"refresh", conf.RefreshCron,
		"backend", conf.Backend,
		"snapshot", conf.Snapshot.Enabled,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	connector, provider, err := newBackend(ctx, conf, loc)
	if err != nil {
		appLog.Error("failed to set up backend", err, "backend", conf.Backend)
		os.Exit(1)
	}

	ctrl := calsync.New(connector, loc)

	// A nil *auth.Provider must not become a non-nil interface.
	var authn web.Authenticator
	if provider != nil {
		authn = provider
	}
	server := web.NewServer(conf, ctrl, authn)
	go server.Run(ctx)

	httpServer := &http.Server{
		Addr:              conf.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	startSession(ctx, ctrl, provider)

	var hooks []func(context.Context)
	if conf.Snapshot.Enabled {
		hooks = append(hooks, snapshotHook(conf))
	}
	refresher, err := calsync.NewRefresher(ctrl, conf.RefreshCron, hooks...)
	if err != nil {
		appLog.Error("invalid refresh schedule", err)
		os.Exit(1)
	}

	if flags.once {
		if err := refresher.RunOnce(ctx); err != nil {
			appLog.Error("refresh failed", err)
		}
	} else {
		refresher.Start()
		select {
		case <-ctx.Done():
		case err := <-serveErr:
			appLog.Error("HTTP server failed", err)
		}
		refresher.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	appLog.Info("crewcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	pflag.StringVarP(&cfg.configPath, "config", "c", "/etc/crewcal/config.yaml", "Path to config file")
	pflag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	pflag.BoolVar(&cfg.once, "once", false, "Run one refresh (and snapshot) and exit")
	pflag.BoolVar(&cfg.debug, "debug", false, "Debug logging to the console")

	pflag.Parse()

	return cfg
}

// startSession signs in with whatever credential is at hand. A cached token
// the store rejects is discarded so the next visit starts the consent flow.
func startSession(ctx context.Context, ctrl *calsync.Controller, provider *auth.Provider) {
	if provider == nil {
		if err := ctrl.SignIn(ctx, nil); err != nil {
			appLog.Error("could not open calendar", err)
		}
		return
	}

	tok, err := provider.Cached()
	if err != nil {
		appLog.Error("token cache unreadable", err)
	}
	if tok == nil {
		appLog.Info("not signed in; open /auth/login to connect the calendar")
		return
	}
	if err := ctrl.SignIn(ctx, tok); err != nil {
		if errors.Is(err, calsync.ErrSessionExpired) {
			appLog.Warn("cached token rejected, discarding")
			if err := provider.Discard(); err != nil {
				appLog.Error("could not discard token", err)
			}
			return
		}
		appLog.Error("sign-in with cached token failed", err)
	}
}

func snapshotHook(conf *config.Config) func(context.Context) {
	target := overviewURL(conf)
	return func(ctx context.Context) {
		err := capture.OverviewPNG(ctx, capture.Options{
			URL:        target,
			OutputPath: conf.Snapshot.Path,
			Width:      conf.Snapshot.Width,
			Height:     conf.Snapshot.Height,
		})
		if err != nil {
			appLog.Error("overview snapshot failed", err)
		}
	}
}

// overviewURL points the headless browser at this process, over loopback
// when the server listens on all interfaces.
func overviewURL(conf *config.Config) string {
	host, port, err := net.SplitHostPort(conf.Listen)
	if err != nil {
		host, port = "127.0.0.1", "8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(host, port), Path: "/overview"}
	if ba := conf.BasicAuth; ba != nil && ba.Username != "" && ba.Password != "" {
		u.User = url.UserPassword(ba.Username, ba.Password)
	}
	return u.String()
}
