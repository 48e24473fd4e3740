package directory

import (
	"context"
	"fmt"
	"io"

	"qrattend/internal/config"
	"qrattend/internal/store"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the directory selected by DIRECTORY_BACKEND. The returned closer
// releases any database handle.
func Open(ctx context.Context, cfg config.App) (Directory, io.Closer, error) {
	switch cfg.DirectoryBackend {
	case config.BackendMemory:
		return NewMemoryDirectory(), nopCloser{}, nil
	case config.BackendHTTP:
		return NewHTTPDirectory(cfg.DirectoryURL), nopCloser{}, nil
	case config.BackendPostgres, config.BackendSQLite:
		driver, dsn, dialect := store.DriverPostgres, cfg.DatabaseURL, DialectPostgres
		if cfg.DirectoryBackend == config.BackendSQLite {
			driver, dsn, dialect = store.DriverSQLite, cfg.SQLitePath, DialectSQLite
		}
		db, err := store.NewDB(ctx, driver, dsn)
		if err != nil {
			return nil, nil, err
		}
		dir := NewSQLDirectory(db.Client, dialect)
		if err := dir.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure students schema: %w", err)
		}
		return dir, db, nil
	default:
		return nil, nil, fmt.Errorf("unknown directory backend %q", cfg.DirectoryBackend)
	}
}
