package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/cyber-rating/internal/config"
	"github.com/sells-group/cyber-rating/internal/db"
	"github.com/sells-group/cyber-rating/internal/quote"
	"github.com/sells-group/cyber-rating/internal/ratetable"
	"github.com/sells-group/cyber-rating/internal/rating"
	"github.com/sells-group/cyber-rating/internal/resilience"
	"github.com/sells-group/cyber-rating/internal/tower"
)

// loadTable loads the rate table from the configured source.
func loadTable(ctx context.Context, c *config.Config) (*ratetable.Table, error) {
	switch c.Rating.Source {
	case "", "file":
		if c.Rating.TablesPath == "" {
			return ratetable.LoadDefault()
		}
		return ratetable.LoadFile(c.Rating.TablesPath)
	case "postgres":
		pool, err := db.NewPool(ctx, c.Store.DatabaseURL, c.Store.PoolConfig())
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		return ratetable.LoadPostgres(ctx, pool)
	default:
		return nil, eris.Errorf("unsupported rating source: %s", c.Rating.Source)
	}
}

func initEngine(ctx context.Context) (*rating.Engine, error) {
	t, err := loadTable(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return rating.NewEngine(t), nil
}

func newNamer(c *config.Config) *tower.Namer {
	return tower.NewNamer(
		tower.WithAnchorCarrier(c.Rating.AnchorCarrier),
		tower.WithDefaultRetention(c.Rating.DefaultRetention),
	)
}

// initStore opens and migrates the configured quote store.
func initStore(ctx context.Context) (quote.Store, error) {
	var (
		st  quote.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "rating.db"
		}
		st, err = quote.NewSQLite(dsn)
	case "postgres":
		st, err = quote.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.PoolConfig())
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func retryPolicy(c *config.Config, op string) resilience.Policy {
	return resilience.PolicyFromConfig(op, c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)
}

var printer = message.NewPrinter(language.English)

// money formats whole dollars with thousands separators: "$1,234,567".
func money(v int64) string {
	if v < 0 {
		return printer.Sprintf("-$%d", -v)
	}
	return printer.Sprintf("$%d", v)
}

// premiumError renders a rating failure for the terminal.
func premiumError(err error) error {
	return fmt.Errorf("Error calculating premium: %w", err) //nolint:staticcheck
}
