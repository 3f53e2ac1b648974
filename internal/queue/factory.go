package queue

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cheekymohnkey/styledna/internal/config"
)

// New constructs the queue adapter selected by config. Called once at
// process startup; the variant never changes at runtime.
func New(cfg config.QueueConfig, pool *pgxpool.Pool) (Adapter, error) {
	switch cfg.Mode {
	case "postgres":
		return NewPostgresAdapter(pool, cfg.Name, cfg.LeaseTimeout), nil
	case "rabbitmq":
		return NewRabbitAdapter(cfg.RabbitURL, cfg.Name)
	default:
		return nil, fmt.Errorf("unknown queue mode %q: must be one of postgres, rabbitmq", cfg.Mode)
	}
}
