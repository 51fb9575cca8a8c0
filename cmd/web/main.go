// cmd/web/main.go
//
// hostbus – HTTP entry point.
//
// Start-up
// --------
//
//  1. Load configuration (conf/.env → conf/global.yaml → HOSTBUS_ env).
//
//  2. Start daily rotating logger (tees to console when running in a TTY).
//
//  3. Build the service graph: central store, schema, tenant resolver,
//     deployment engine, and the builtin admin app.
//
//  4. Fail deployments left pending by a previous process.
//
//  5. Start the auto-deploy scheduler when deploy.auto_cron is set.
//
//  6. Serve:
//
//     • /metrics                 – Prometheus
//     • /healthz                 – central store ping
//     • everything else          – host → tenant Context → app router
//
//     wrapped in Security headers and, when http.force_https is set,
//     ForceHTTPS.
//
//  7. On SIGINT/SIGTERM, stop accepting requests, stop the scheduler, and
//     let background deployments record their outcome.
//
// Large comment blocks are framed by blank "//" lines; inline comments use
// a single "//".
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yanizio/hostbus/internal/config"
	"github.com/yanizio/hostbus/internal/core"
	"github.com/yanizio/hostbus/internal/deploy"
	"github.com/yanizio/hostbus/internal/logger"
	"github.com/yanizio/hostbus/internal/middleware"
	"github.com/yanizio/hostbus/internal/server"
	"github.com/yanizio/hostbus/internal/tenant"
)

const shutdownGrace = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logOut, err := logger.New(cfg.Paths.Root, logger.RunningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer func() { _ = logOut.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//
	// ── 1.  Services ────────────────────────────────────────────────────
	//
	svc, err := core.Build(ctx, cfg, logOut)
	if err != nil {
		logOut.Fatalw("start services", "error", err)
	}
	defer svc.Close()

	if _, err := svc.Engine.RecoverInterrupted(ctx); err != nil {
		logOut.Fatalw("recover interrupted deployments", "error", err)
	}

	if sites, err := svc.Sites.All(ctx); err == nil {
		logOut.Infow("managed sites loaded", "count", len(sites))
	}

	//
	// ── 2.  Auto-deploy ─────────────────────────────────────────────────
	//
	if spec := cfg.Deploy.AutoCron; spec != "" {
		sched, err := deploy.NewScheduler(spec, svc.Engine, svc.Sites, logOut)
		if err != nil {
			logOut.Fatalw("auto-deploy schedule", "cron", spec, "error", err)
		}
		sched.Start()
		defer sched.Stop(context.Background())
	}

	//
	// ── 3.  Router ──────────────────────────────────────────────────────
	//
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.Recoverer, middleware.Security)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := svc.DB.PingContext(pctx); err != nil {
			http.Error(w, "central store unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	var root http.Handler = tenant.Handler(svc.Hosts, svc.Views)
	if cfg.HTTP.ForceHTTPS {
		root = middleware.ForceHTTPS(svc.Hosts, root)
	}
	r.NotFound(root.ServeHTTP)
	r.MethodNotAllowed(root.ServeHTTP)

	//
	// ── 4.  Serve until signalled ───────────────────────────────────────
	//
	var opts []server.Option
	if !cfg.Deploy.Async {
		// Synchronous deploys hold the response for the whole attempt.
		opts = append(opts, server.WithWriteTimeout(cfg.Deploy.Timeout+server.WriteTimeout))
	}
	srv := server.New(cfg.HTTP.ListenAddr, r, opts...)
	if err := server.Serve(ctx, srv, shutdownGrace); err != nil {
		logOut.Errorw("http server", "error", err)
	}
	logOut.Info("bye")
}
