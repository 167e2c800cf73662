package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ggoodman/mcp-atlassian-go/auth"
	"github.com/ggoodman/mcp-atlassian-go/broker"
	redisbroker "github.com/ggoodman/mcp-atlassian-go/broker/redis"
	"github.com/ggoodman/mcp-atlassian-go/httptransport"
	"github.com/ggoodman/mcp-atlassian-go/internal/config"
	"github.com/ggoodman/mcp-atlassian-go/internal/engine"
	"github.com/ggoodman/mcp-atlassian-go/internal/sessioncore"
	"github.com/ggoodman/mcp-atlassian-go/sessions"
	"github.com/ggoodman/mcp-atlassian-go/sessions/memoryhost"
	"github.com/ggoodman/mcp-atlassian-go/sessions/redishost"
	"github.com/redis/go-redis/v9"
)

const shutdownGrace = 10 * time.Second

func serveHTTP(ctx context.Context, cfg *config.Config, eng *engine.Engine, log *slog.Logger) error {
	mode, ok := httptransport.ParseSessionMode(cfg.Session.Mode)
	if !ok {
		return fmt.Errorf("unknown session mode %q", cfg.Session.Mode)
	}
	opts := []httptransport.Option{
		httptransport.WithPath(cfg.HTTP.Path),
		httptransport.WithLogger(log),
		httptransport.WithSessionMode(mode),
	}

	if mode == httptransport.SessionModeStateful {
		mgr, b, closeStore, err := newSessionManager(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeStore()
		opts = append(opts, httptransport.WithSessionManager(mgr))
		if b != nil {
			opts = append(opts, httptransport.WithBroker(b))
		}
	}

	authn, err := newAuthenticator(ctx, cfg)
	if err != nil {
		return err
	}
	if authn != nil {
		opts = append(opts, httptransport.WithAuthenticator(authn), httptransport.WithRealm(serverName))
		if cfg.HTTP.PublicURL != "" {
			resource := strings.TrimSuffix(cfg.HTTP.PublicURL, "/") + cfg.HTTP.Path
			opts = append(opts, httptransport.WithResourceMetadata(resource, []string{cfg.Auth.Issuer}, cfg.AuthScopes()))
		}
	}

	h, err := httptransport.New(eng, opts...)
	if err != nil {
		return err
	}
	defer h.Close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "server.start",
			slog.String("transport", "http"),
			slog.String("addr", cfg.HTTP.Addr),
			slog.String("path", h.Path()),
			slog.String("session_mode", mode.String()),
			slog.String("auth", cfg.Auth.Mode),
			slog.String("version", version),
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("server.shutdown")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// newSessionManager builds the session store named by the configuration.
// A Redis store also yields a broker on the same connection so that
// cancellations reach whichever process runs the invocation. The returned
// func releases the connection.
func newSessionManager(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sessioncore.Manager, broker.Broker, func(), error) {
	seed, err := cfg.SigningSeed()
	if err != nil {
		return nil, nil, nil, err
	}
	signer, err := sessioncore.NewMemoryJWSFromSeed(seed)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("session signer: %w", err)
	}

	var (
		store     sessions.Store
		b         broker.Broker
		closeFunc = func() {}
	)
	switch cfg.Session.Store {
	case config.StoreRedis:
		cl := redis.NewClient(&redis.Options{Addr: cfg.Session.RedisAddr})
		rs, err := redishost.NewWithClient(ctx, cl, cfg.Session.RedisKeyPrefix)
		if err != nil {
			_ = cl.Close()
			return nil, nil, nil, fmt.Errorf("session store: %w", err)
		}
		store = rs
		b = redisbroker.New(cl, cfg.Session.RedisKeyPrefix+"broker:")
		closeFunc = func() {
			if err := cl.Close(); err != nil {
				log.Warn("session_store.close.fail", slog.String("err", err.Error()))
			}
		}
	default:
		ms, err := memoryhost.New(0)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("session store: %w", err)
		}
		store = ms
	}
	mgr := sessioncore.NewManager(store, signer, sessioncore.ManagerConfig{TTL: cfg.Session.TTL, Logger: log})
	return mgr, b, closeFunc, nil
}

// newAuthenticator returns nil when auth is disabled.
func newAuthenticator(ctx context.Context, cfg *config.Config) (auth.Authenticator, error) {
	var opts []auth.Option
	if scopes := cfg.AuthScopes(); len(scopes) > 0 {
		opts = append(opts, auth.WithRequiredScopes(scopes...))
	}
	a := cfg.Auth
	switch a.Mode {
	case config.AuthHMAC:
		return auth.NewHMAC([]byte(a.HMACSecret), a.Issuer, a.Audience, opts...)
	case config.AuthJWKS:
		return auth.NewJWKS(ctx, a.JWKSURL, a.Issuer, a.Audience, opts...)
	case config.AuthOIDC:
		return auth.NewFromDiscovery(ctx, a.Issuer, a.Audience, opts...)
	}
	return nil, nil
}
