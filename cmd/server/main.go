package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bulletin-service/internal/config"
	"bulletin-service/internal/factory"
	"bulletin-service/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	f, err := factory.NewFactory(cfg)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, f); err != nil {
		util.Error("Server stopped with error", util.ErrorField(err))
		f.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, f *factory.Factory) error {
	cfg := f.Config()
	router := f.Router()
	servers := buildServers(f, router)

	g, gctx := errgroup.WithContext(ctx)

	for _, worker := range f.Workers() {
		worker := worker
		g.Go(func() error { return worker(gctx) })
	}

	for _, s := range servers {
		s := s
		g.Go(func() error {
			util.Info("Starting server",
				util.String("environment", cfg.Environment),
				util.String("address", s.srv.Addr),
				util.Bool("tls", s.tls),
			)
			var err error
			if s.tls {
				err = s.srv.ListenAndServeTLS("", "")
			} else {
				err = s.srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", s.srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		util.Info("Shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, s := range servers {
			if err := s.srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", s.srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

type server struct {
	srv *http.Server
	tls bool
}

// buildServers returns the API server and, with autocert in production, the
// port 80 listener that answers ACME challenges.
func buildServers(f *factory.Factory, router http.Handler) []server {
	cfg := f.Config()

	api := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if !cfg.Server.EnableTLS {
		util.Warn("TLS is disabled", util.String("environment", cfg.Environment))
		return []server{{srv: api}}
	}

	tlsManager := f.TLSManager()
	api.Addr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	api.TLSConfig = tlsManager.GetTLSConfig()
	servers := []server{{srv: api, tls: true}}

	if acm := tlsManager.GetAutocertManager(); acm != nil && cfg.IsProduction() {
		api.Addr = ":443"
		servers = append(servers, server{srv: &http.Server{
			Addr:              ":80",
			Handler:           acm.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}})
	}
	return servers
}
