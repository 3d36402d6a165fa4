// Package kvlocal serves the Workers KV REST API on top of a local kvstore,
// so code written against cfapi can run without a Cloudflare account.
package kvlocal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/acksell/cfkv/kv/kvstore"
)

// BasePath is where the API is mounted, matching cfapi.DefaultBaseURL.
const BasePath = "/client/v4"

// ServerConfig configures the emulator.
type ServerConfig struct {
	// Port is the HTTP port to listen on.
	Port int
	// DBPath is the path to the BadgerDB database. Empty for in-memory mode.
	DBPath string
	// APIToken, when set, is required as a bearer token on every request.
	APIToken string
	// Namespaces are created at startup unless a namespace with the same
	// title exists.
	Namespaces []string
	Logger     zerolog.Logger
}

// Server is the emulator HTTP server.
type Server struct {
	config     ServerConfig
	store      *kvstore.Store
	httpServer *http.Server
}

// NewServer opens the store and registers the configured namespaces.
func NewServer(config ServerConfig) (*Server, error) {
	store, err := kvstore.New(kvstore.StoreOptions{
		Path:     config.DBPath,
		InMemory: config.DBPath == "",
		Logger:   &config.Logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating store")
	}
	if err := EnsureNamespaces(store, config.Namespaces...); err != nil {
		store.Close()
		return nil, err
	}
	return &Server{
		config: config,
		store:  store,
	}, nil
}

// EnsureNamespaces creates the titled namespaces that do not exist yet.
func EnsureNamespaces(store *kvstore.Store, titles ...string) error {
	existing, err := store.ListNamespaces()
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, ns := range existing {
		have[ns.Title] = true
	}
	for _, title := range titles {
		if have[title] {
			continue
		}
		if _, err := store.CreateNamespace(title); err != nil {
			return errors.Wrapf(err, "create namespace %s", title)
		}
		have[title] = true
	}
	return nil
}

func (s *Server) Store() *kvstore.Store {
	return s.store
}

// Handler returns the gin engine serving the API.
func (s *Server) Handler() http.Handler {
	return NewEngine(s.store, EngineOptions{
		APIToken: s.config.APIToken,
		Logger:   s.config.Logger,
	})
}

// Run starts the server and blocks until SIGINT or SIGTERM.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		s.config.Logger.Info().Msg("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
		close(done)
	}()

	s.logStartup()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	<-done
	return nil
}

// Shutdown gracefully shuts down the server and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *Server) logStartup() {
	ev := s.config.Logger.Info().
		Str("url", fmt.Sprintf("http://localhost:%d%s", s.config.Port, BasePath))
	if s.config.DBPath == "" {
		ev = ev.Str("mode", "in-memory")
	} else {
		ev = ev.Str("db", s.config.DBPath)
	}
	namespaces, err := s.store.ListNamespaces()
	if err == nil {
		for _, ns := range namespaces {
			s.config.Logger.Info().Str("id", ns.ID).Str("title", ns.Title).Msg("namespace")
		}
	}
	ev.Int("namespaces", len(namespaces)).Msg("kv emulator listening")
}
