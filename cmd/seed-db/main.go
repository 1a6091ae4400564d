package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-pricing/internal/domain/discount"
	"github.com/xenking/kart-pricing/internal/storage/postgres"
)

type parameterJSON struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
}

type discountTypeJSON struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []parameterJSON `json:"parameters"`
}

type typeUpserter interface {
	UpsertType(ctx context.Context, t discount.Type, params []discount.Parameter) (int64, error)
}

func main() {
	var (
		databaseURL string
		typesFile   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&typesFile, "types-file", "db/seed/discount_types.json", "path to discount types JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, typesFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, typesFile string) error {
	types, err := readTypes(typesFile)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return seedTypes(ctx, postgres.NewDiscountStore(pool), types)
}

func readTypes(path string) ([]discountTypeJSON, error) {
	slog.Info("reading discount types file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read discount types file")
	}

	var types []discountTypeJSON
	if err := json.Unmarshal(data, &types); err != nil {
		return nil, errors.Wrap(err, "parse discount types JSON")
	}

	for _, t := range types {
		if t.Name == "" {
			return nil, errors.New("discount type without a name")
		}
		for _, p := range t.Parameters {
			if p.Name == "" {
				return nil, errors.Errorf("discount type %s declares a parameter without a name", t.Name)
			}
		}
	}

	return types, nil
}

func seedTypes(ctx context.Context, store typeUpserter, types []discountTypeJSON) error {
	slog.Info("upserting discount types", slog.Int("count", len(types)))

	for _, t := range types {
		params := make([]discount.Parameter, 0, len(t.Parameters))
		for _, p := range t.Parameters {
			params = append(params, discount.Parameter{Name: p.Name, DataType: discount.DataType(p.DataType)})
		}

		id, err := store.UpsertType(ctx, discount.Type{Name: t.Name, Description: t.Description}, params)
		if err != nil {
			return errors.Wrapf(err, "upsert discount type %s", t.Name)
		}

		slog.Info("upserted discount type",
			slog.Int64("id", id),
			slog.String("name", t.Name),
			slog.Int("parameters", len(params)),
		)
	}

	return nil
}
