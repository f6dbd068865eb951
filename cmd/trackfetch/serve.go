package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"trackfetch/internal/config"
	"trackfetch/internal/web"
)

func init() {
	cmdRoot.AddCommand(cmdServe())
}

func cmdServe() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with job tracking and websocket progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			a, err := newApp(cmd, func(cfg *config.Config) {
				if addr != "" {
					cfg.Server.Addr = addr
				}
			})
			if err != nil {
				return err
			}
			defer a.close()

			ctx := a.sh.Context()

			jobMgr := web.NewJobManager()
			jobMgr.StartCleanup(ctx)
			a.engine.SetTracker(jobMgr)

			server := web.NewServer(ctx, jobMgr, a.engine, a.cfg, a.log)

			// No write timeout: websocket progress streams are long-lived.
			httpServer := &http.Server{
				Addr:        a.cfg.Server.Addr,
				Handler:     server.Router(),
				ReadTimeout: 15 * time.Second,
				IdleTimeout: 60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("Starting web server on %s", a.cfg.Server.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}

			a.log.Info("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				a.log.Error("Server shutdown error: %v", err)
			}

			a.log.Info("Server stopped")
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return cmd
}
