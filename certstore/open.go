package certstore

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/pact/am"
	"github.com/teranos/pact/errors"
)

// Open builds the store selected by certification.store.
func Open(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (Store, error) {
	prefix := cfg.Certification.KeyPrefix
	switch cfg.Certification.Store {
	case am.StoreSQLite, "":
		return OpenSQLite(cfg.GetDatabasePath(), prefix, log)
	case am.StoreRedis:
		return DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, prefix, log)
	case am.StoreMemory:
		return NewMemoryStore(prefix), nil
	}
	return nil, errors.WithHint(
		errors.NewConfigurationError("unknown certificate store %q", cfg.Certification.Store),
		"set certification.store to sqlite, redis or memory")
}
