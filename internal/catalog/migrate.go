package catalog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"strings"
	"sync"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/pressly/goose/v3"

	"github.com/Laisky/lellostore/library/db/sqldb"
	"github.com/Laisky/lellostore/library/log"
)

//go:embed migrations
var migrationsFS embed.FS

var (
	// goose keeps its base FS and dialect in package globals
	gooseMu sync.Mutex

	gooseUpContext = goose.UpContext
)

// gooseLogger routes goose progress messages into the service logger.
type gooseLogger struct {
	logger logSDK.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Fatal(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Migrate applies every pending schema migration for db's dialect.
func Migrate(ctx context.Context, db *sqldb.DB) error {
	if db == nil || db.DB == nil {
		return errors.New("db cannot be nil")
	}
	return migrate(ctx, db.DB, db.Dialect, log.Logger.Named("migrate"))
}

func migrate(ctx context.Context, db *sql.DB, dialect sqldb.Dialect, logger logSDK.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(gooseLogger{logger: logger})

	if err := goose.SetDialect(string(dialect)); err != nil {
		return errors.Wrapf(err, "set goose dialect %q", dialect)
	}

	dir := path.Join("migrations", string(dialect))
	if err := gooseUpContext(ctx, db, dir); err != nil {
		return errors.Wrapf(err, "apply %s migrations", dialect)
	}

	return nil
}
