package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("GATEHOUSE_AUTH_SECRET")
	if secret == "" {
		log.Fatal("GATEHOUSE_AUTH_SECRET is required")
	}

	var (
		db    *sql.DB
		store auth.Store
	)
	if dsn := os.Getenv("GATEHOUSE_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		log.Println("GATEHOUSE_PG_DSN not set, using in-memory store")
		store = auth.NewMemoryStore()
	}

	opts := []auth.ServiceOption{auth.WithTokenSecret(secret)}
	if ttl, err := time.ParseDuration(os.Getenv("GATEHOUSE_ACCESS_TTL")); err == nil {
		opts = append(opts, auth.WithAccessTTL(ttl))
	}
	if ttl, err := time.ParseDuration(os.Getenv("GATEHOUSE_REFRESH_TTL")); err == nil {
		opts = append(opts, auth.WithRefreshTTL(ttl))
	}
	svc, err := auth.NewService(store, opts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	resolver := auth.NewResolver(store)

	ctx := context.Background()
	if err := svc.EnsureBootstrap(ctx, os.Getenv("GATEHOUSE_BOOTSTRAP_EMAIL"), os.Getenv("GATEHOUSE_BOOTSTRAP_PASSWORD")); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	// Advisory housekeeping: expired session rows are inert but pile up.
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := svc.SweepSessions(context.Background()); err != nil {
					log.Printf("session sweep: %v", err)
				} else if n > 0 {
					log.Printf("session sweep removed %d rows", n)
				}
			case <-sweepDone:
				return
			}
		}
	}()

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, resolver)

	addr := os.Getenv("GATEHOUSE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting gatehouse-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	close(sweepDone)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
