package common

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahrav/vulnguard/pkg/common/logger"
)

// ConnectPostgresWithRetry attempts to establish a connection pool to Postgres with
// exponential backoff. It will retry failed connection attempts for up to maxElapsed,
// starting with 1 second intervals. This helps handle a database container that is
// still starting when the scanner boots in CI.
func ConnectPostgresWithRetry(
	ctx context.Context,
	log *logger.Logger,
	dsn string,
	maxElapsed time.Duration,
) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	var pool *pgxpool.Pool

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = maxElapsed
	expBackoff.InitialInterval = time.Second

	operation := func() error {
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			log.Warn(ctx, "Failed to create postgres pool, will retry", "error", err)
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			log.Warn(ctx, "Failed to reach postgres, will retry", "error", err)
			return err
		}
		pool = p
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres after retries: %w", err)
	}

	return pool, nil
}
