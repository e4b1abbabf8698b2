package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gatehouse.org/internal/migrate"
)

func main() {
	var (
		migrationsDir = flag.String("migrations", "migrations", "directory with *.up.sql files")
		seedsDir      = flag.String("seeds", "seeds", "directory with seed *.sql files")
		skipSeeds     = flag.Bool("skip-seeds", false, "apply migrations only")
	)
	flag.Parse()

	dsn := os.Getenv("GATEHOUSE_PG_DSN")
	if dsn == "" {
		log.Fatal("GATEHOUSE_PG_DSN is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	mgr := migrate.NewManager(db, *migrationsDir, *seedsDir)
	if err := mgr.Up(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if !*skipSeeds {
		if err := mgr.Seed(ctx); err != nil {
			log.Fatalf("seed: %v", err)
		}
	}
	log.Println("migrations applied")
}
