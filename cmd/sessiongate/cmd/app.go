package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/medcontrol/sessiongate/internal/adapter/outbound/authapi"
	"github.com/medcontrol/sessiongate/internal/adapter/outbound/credfile"
	"github.com/medcontrol/sessiongate/internal/adapter/outbound/credsqlite"
	"github.com/medcontrol/sessiongate/internal/adapter/outbound/memory"
	"github.com/medcontrol/sessiongate/internal/config"
	"github.com/medcontrol/sessiongate/internal/domain/credential"
	"github.com/medcontrol/sessiongate/internal/domain/gateway"
	"github.com/medcontrol/sessiongate/internal/domain/session"
	"github.com/medcontrol/sessiongate/internal/metrics"
)

// app wires the credential store, session manager, and gateway together
// for a single CLI invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    credential.Store
	session  *session.Manager
	gateway  *gateway.Gateway

	closeStore func() error
}

// newApp loads configuration and builds the full dependency graph.
func newApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	if file := config.ConfigFileUsed(); file != "" {
		logger.Debug("loaded config", "file", file)
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	authURL := strings.TrimRight(cfg.API.BaseURL, "/") + cfg.API.AuthPath
	tokens := authapi.NewClient(authURL, logger, authapi.WithTimeout(cfg.APITimeout()))

	sess := session.NewManager(store, tokens, logger)

	registry := prometheus.NewRegistry()
	mets := metrics.NewMetrics(registry)

	gw := gateway.NewGateway(sess, mets, logger,
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout()}),
		gateway.WithAuthBasePath(cfg.API.AuthPath),
		gateway.WithLoadingDelay(cfg.LoadingDelay()),
	)

	return &app{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		metrics:    mets,
		store:      store,
		session:    sess,
		gateway:    gw,
		closeStore: closeStore,
	}, nil
}

// Close releases resources held by the app.
func (a *app) Close() error {
	if a.closeStore != nil {
		return a.closeStore()
	}
	return nil
}

// openStore builds the credential store selected by the configuration.
func openStore(cfg *config.Config, logger *slog.Logger) (credential.Store, func() error, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memory.NewCredStore(), nil, nil
	case config.BackendSQLite:
		st, err := credsqlite.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open credential database: %w", err)
		}
		return st, st.Close, nil
	case config.BackendFile:
		return credfile.NewStore(cfg.Store.Path, logger), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}
