package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/temporal/internal/config"
	"github.com/rpattn/temporal/internal/db"
	"github.com/rpattn/temporal/internal/domain"
	"github.com/rpattn/temporal/internal/repository"
	"github.com/rpattn/temporal/internal/schema"
	"github.com/rpattn/temporal/internal/session"
)

type editActivity struct {
	id uuid.UUID
}

func (a editActivity) ActivityID() uuid.UUID { return a.id }

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup database connection
	cfg, err := config.LoadDBConfig(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	conn, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Describe one tracked entity type
	registry := schema.NewRegistry()
	mapping, err := registry.Register(schema.Definition{
		Table:  "asset",
		Schema: "public",
		PrimaryKey: []schema.Column{
			{Name: "id", Type: "uuid"},
		},
		Columns: []schema.Column{
			{Name: "name", Type: "text"},
			{Name: "rating", Type: "integer", Default: int64(0)},
		},
		Track: []string{"name", "rating"},
	})
	if err != nil {
		log.Fatalf("Failed to register mapping: %v", err)
	}

	host := db.NewPoolSession(conn.Pool)
	if err := host.Begin(ctx); err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}

	if err := db.ApplyDDL(ctx, host.Querier(), mapping.DDL()); err != nil {
		log.Fatalf("Failed to create temporal tables: %v", err)
	}

	sess := session.Attach(host, repository.NewStores(host), session.Options{})

	// Create one entity, flush, then mutate it inside a clock tick
	asset, err := sess.Create(mapping, domain.Identity{"id": uuid.New()},
		map[string]any{"name": "pump-01"}, nil)
	if err != nil {
		log.Fatalf("Failed to create entity: %v", err)
	}
	if err := host.Flush(ctx); err != nil {
		log.Fatalf("Failed to flush: %v", err)
	}

	err = sess.ClockTick(asset, editActivity{id: uuid.New()}, func(e *domain.Entity) error {
		return e.Set("rating", int64(5))
	})
	if err != nil {
		log.Fatalf("Failed to apply clock tick: %v", err)
	}

	if err := host.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	history, err := sess.History(ctx, asset, "rating")
	if err != nil {
		log.Fatalf("Failed to query history: %v", err)
	}
	for _, record := range history {
		log.Printf("rating = %v over %s (ticks %s)", record.Value, record.Effective.String(), record.VClock.String())
	}

	created, err := sess.DateCreated(ctx, asset)
	if err != nil {
		log.Fatalf("Failed to query creation time: %v", err)
	}
	log.Printf("asset created %s", created.Format(time.RFC3339))
}
