package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/budgetwatch/budgetwatch/internal/config"
	"github.com/budgetwatch/budgetwatch/internal/utils"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const shutdownTimeout = 30 * time.Second

// Application wires configuration, database, router, and server lifecycle.
type Application struct {
	cfg    config.Application
	deps   *Dependencies
	router *mux.Router
	srv    *http.Server
}

// NewApplication constructs the full HTTP application, ready to Run().
func NewApplication(ctx context.Context, cfg config.Application) (*Application, error) {
	st, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	clock := utils.SystemClock{}
	deps, err := BuildDependencies(st, cfg, afero.NewOsFs(), clock)
	if err != nil {
		st.Close()
		return nil, err
	}

	r := NewRouter(deps)
	srv := &http.Server{
		Handler:     r,
		Addr:        cfg.Listen,
		ReadTimeout: 15 * time.Second,
		// Downloads and uploads of whole datasets may take a while.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return &Application{cfg: cfg, deps: deps, router: r, srv: srv}, nil
}

// NewRouter builds the middleware chain and the API routes.
func NewRouter(deps *Dependencies) *mux.Router {
	r := mux.NewRouter()
	SetupMiddleware(r, deps.Clock)
	RegisterRoutes(r, deps)
	return r
}

// Run starts the HTTP server and blocks until ctx is done, then shuts the server down,
// cancelling running jobs.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", a.srv.Addr)
		errCh <- a.srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		log.Info("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server shutdown failed: %v", err)
	}
	if err := a.deps.Close(shutdownCtx); err != nil {
		log.Error(err)
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}
