// Package app provides application lifecycle management for the sheetsync server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/sheetsync-server/internal/config"
	"github.com/stacklok/sheetsync-server/internal/fanout"
	"github.com/stacklok/sheetsync-server/internal/service"
	"github.com/stacklok/sheetsync-server/internal/sheets"
	"github.com/stacklok/sheetsync-server/internal/store"
	"github.com/stacklok/sheetsync-server/internal/sync/scheduler"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	Store        store.Store
	Fetcher      *sheets.Fetcher
	Registry     *fanout.Registry
	Scheduler    *scheduler.Scheduler
	TableService service.TableService
}

// SheetSyncApp encapsulates all components needed to run the server.
// It provides lifecycle management and graceful shutdown.
type SheetSyncApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server
	listener   net.Listener

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start resumes polling for stored tables and serves HTTP.
// It blocks until the HTTP server stops or fails.
func (app *SheetSyncApp) Start() error {
	g, ctx := errgroup.WithContext(app.ctx)

	if app.config.Sync.ResumeOnStartup() {
		g.Go(func() error {
			n, err := app.components.TableService.ResumeAll(ctx)
			if err != nil {
				// Tables created from now on still poll; the rest wait for a restart
				slog.Error("Failed to resume table sync", "error", err)
				return nil
			}
			slog.Info("Table sync resumed", "tables", n)
			return nil
		})
	}

	g.Go(func() error {
		listener := app.listener
		if listener == nil {
			var err error
			listener, err = net.Listen("tcp", app.httpServer.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
			}
		}
		slog.Info("Server listening", "address", listener.Addr().String())
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Stop gracefully stops the application with the given timeout.
// Polling stops first so no snapshot is pushed to connections being closed.
func (app *SheetSyncApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	app.components.Scheduler.Shutdown()

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}
	if err := app.components.Store.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close record store: %w", err))
	}

	slog.Info("Server shutdown complete")
	return errors.Join(errs...)
}

// GetConfig returns the application configuration
func (app *SheetSyncApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server
func (app *SheetSyncApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the wired components
func (app *SheetSyncApp) Components() *AppComponents {
	return app.components
}
