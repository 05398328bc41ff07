// Package catalog persists apps and their versions.
//
// Queries use $N placeholders, which both pgx and go-sqlite3 accept. Every
// query introduces its placeholders in ascending order because sqlite numbers
// them by first appearance.
package catalog

import (
	"context"
	"database/sql"
	"time"

	errors "github.com/Laisky/errors/v2"
)

// Store is the catalog API used by the upload pipeline and the HTTP layer.
type Store interface {
	ListApps(ctx context.Context) ([]AppSummary, error)
	GetApp(ctx context.Context, packageName string) (*App, error)
	ListVersions(ctx context.Context, packageName string) ([]Version, error)
	GetVersion(ctx context.Context, packageName string, versionCode int64) (*Version, error)
	VersionExists(ctx context.Context, packageName string, versionCode int64) (bool, error)
	RecordUpload(ctx context.Context, rec *UploadRecord) (isNewApp bool, err error)
	UpdateApp(ctx context.Context, packageName string, upd AppUpdate) (*App, error)
	DeleteApp(ctx context.Context, packageName string) (*App, error)
	DeleteVersion(ctx context.Context, packageName string, versionCode int64) (*DeleteVersionResult, error)
	Counts(ctx context.Context) (apps, versions int64, err error)
}

var _ Store = new(Repository)

// Repository is the SQL implementation of Store.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository create a new repository over a migrated database
func NewRepository(db *sql.DB) (*Repository, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}

	return &Repository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

const appColumns = `package_name, name, description, icon_path, created_at, updated_at`

const versionColumns = `id, package_name, version_code, version_name, apk_path, size, sha256, min_sdk, uploaded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApp(row rowScanner) (*App, error) {
	var (
		app         App
		description sql.NullString
		iconPath    sql.NullString
	)
	if err := row.Scan(&app.PackageName, &app.Name, &description, &iconPath,
		&app.CreatedAt, &app.UpdatedAt); err != nil {
		return nil, err
	}

	app.Description = nullStringPtr(description)
	app.IconPath = nullStringPtr(iconPath)
	return &app, nil
}

func scanVersion(row rowScanner) (*Version, error) {
	var v Version
	if err := row.Scan(&v.ID, &v.PackageName, &v.VersionCode, &v.VersionName,
		&v.APKPath, &v.Size, &v.SHA256, &v.MinSDK, &v.UploadedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// ListApps returns every app with its newest version, ordered by name.
func (r *Repository) ListApps(ctx context.Context) ([]AppSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT a.package_name, a.name, a.description, a.icon_path, a.created_at, a.updated_at,
       v.version_code, v.version_name, v.size
FROM apps a
LEFT JOIN app_versions v ON v.id = (
    SELECT v2.id FROM app_versions v2
    WHERE v2.package_name = a.package_name
    ORDER BY v2.version_code DESC
    LIMIT 1
)
ORDER BY a.name, a.package_name`)
	if err != nil {
		return nil, errors.Wrap(err, "query apps")
	}
	defer rows.Close() //nolint:errcheck

	apps := []AppSummary{}
	for rows.Next() {
		var (
			s           AppSummary
			description sql.NullString
			iconPath    sql.NullString
			code        sql.NullInt64
			name        sql.NullString
			size        sql.NullInt64
		)
		if err = rows.Scan(&s.PackageName, &s.Name, &description, &iconPath,
			&s.CreatedAt, &s.UpdatedAt, &code, &name, &size); err != nil {
			return nil, errors.Wrap(err, "scan app")
		}

		s.Description = nullStringPtr(description)
		s.IconPath = nullStringPtr(iconPath)
		if code.Valid {
			s.Latest = &LatestVersion{
				VersionCode: code.Int64,
				VersionName: name.String,
				Size:        size.Int64,
			}
		}
		apps = append(apps, s)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate apps")
	}
	return apps, nil
}

// GetApp returns ErrNotFound when packageName is unknown.
func (r *Repository) GetApp(ctx context.Context, packageName string) (*App, error) {
	app, err := scanApp(r.db.QueryRowContext(ctx,
		`SELECT `+appColumns+` FROM apps WHERE package_name = $1`, packageName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get app %q", packageName)
	}
	return app, nil
}

// ListVersions returns versions ordered by version code, newest first.
func (r *Repository) ListVersions(ctx context.Context, packageName string) ([]Version, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM app_versions WHERE package_name = $1 ORDER BY version_code DESC`,
		packageName)
	if err != nil {
		return nil, errors.Wrapf(err, "query versions of %q", packageName)
	}
	defer rows.Close() //nolint:errcheck

	versions := []Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan version")
		}
		versions = append(versions, *v)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate versions")
	}
	return versions, nil
}

// GetVersion returns ErrNotFound when the pair is unknown.
func (r *Repository) GetVersion(ctx context.Context, packageName string, versionCode int64) (*Version, error) {
	v, err := scanVersion(r.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM app_versions WHERE package_name = $1 AND version_code = $2`,
		packageName, versionCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get version %s/%d", packageName, versionCode)
	}
	return v, nil
}

// VersionExists reports whether (packageName, versionCode) is stored.
func (r *Repository) VersionExists(ctx context.Context, packageName string, versionCode int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM app_versions WHERE package_name = $1 AND version_code = $2`,
		packageName, versionCode).Scan(&n)
	if err != nil {
		return false, errors.Wrapf(err, "check version %s/%d", packageName, versionCode)
	}
	return n > 0, nil
}

// RecordUpload creates or updates the app row and inserts the version in one
// transaction. A duplicate (package_name, version_code) yields ErrVersionConflict.
func (r *Repository) RecordUpload(ctx context.Context, rec *UploadRecord) (isNewApp bool, err error) {
	if rec == nil {
		return false, errors.New("upload record cannot be nil")
	}
	now := r.now()

	err = r.inTx(ctx, func(tx *sql.Tx) error {
		name := rec.AppName
		if rec.OverrideName != nil {
			name = *rec.OverrideName
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO apps (package_name, name, description, icon_path, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (package_name) DO NOTHING`,
			rec.PackageName, name, rec.OverrideDescription, rec.IconPath, now)
		if err != nil {
			return errors.Wrap(err, "insert app")
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "rows affected")
		}
		isNewApp = inserted == 1

		if !isNewApp {
			if _, err = tx.ExecContext(ctx, `
UPDATE apps SET
    name = COALESCE($1, name),
    description = COALESCE($2, description),
    icon_path = COALESCE($3, icon_path),
    updated_at = $4
WHERE package_name = $5`,
				rec.OverrideName, rec.OverrideDescription, rec.IconPath, now, rec.PackageName); err != nil {
				return errors.Wrap(err, "update app")
			}
		}

		if _, err = tx.ExecContext(ctx, `
INSERT INTO app_versions (package_name, version_code, version_name, apk_path, size, sha256, min_sdk, uploaded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rec.PackageName, rec.VersionCode, rec.VersionName, rec.APKPath,
			rec.Size, rec.SHA256, rec.MinSDK, now); err != nil {
			if isUniqueViolation(err) {
				return ErrVersionConflict
			}
			return errors.Wrap(err, "insert version")
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	return isNewApp, nil
}

// UpdateApp applies the non-nil fields of upd and returns the updated app.
func (r *Repository) UpdateApp(ctx context.Context, packageName string, upd AppUpdate) (*App, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE apps SET
    name = COALESCE($1, name),
    description = COALESCE($2, description),
    updated_at = $3
WHERE package_name = $4`,
		upd.Name, upd.Description, r.now(), packageName)
	if err != nil {
		return nil, errors.Wrapf(err, "update app %q", packageName)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, errors.Wrap(err, "rows affected")
	} else if n == 0 {
		return nil, ErrNotFound
	}

	return r.GetApp(ctx, packageName)
}

// DeleteApp removes the app and all of its versions, returning the removed row.
func (r *Repository) DeleteApp(ctx context.Context, packageName string) (*App, error) {
	var app *App
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		app, err = scanApp(tx.QueryRowContext(ctx,
			`SELECT `+appColumns+` FROM apps WHERE package_name = $1`, packageName))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return errors.Wrap(err, "get app")
		}

		if _, err = tx.ExecContext(ctx,
			`DELETE FROM app_versions WHERE package_name = $1`, packageName); err != nil {
			return errors.Wrap(err, "delete versions")
		}
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM apps WHERE package_name = $1`, packageName); err != nil {
			return errors.Wrap(err, "delete app")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return app, nil
}

// DeleteVersion removes one version. When it was the last one the app row is
// removed in the same transaction, so an app never outlives its versions.
func (r *Repository) DeleteVersion(ctx context.Context, packageName string, versionCode int64) (*DeleteVersionResult, error) {
	result := new(DeleteVersionResult)
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		v, err := scanVersion(tx.QueryRowContext(ctx,
			`SELECT `+versionColumns+` FROM app_versions WHERE package_name = $1 AND version_code = $2`,
			packageName, versionCode))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return errors.Wrap(err, "get version")
		}
		result.APKPath = v.APKPath

		if _, err = tx.ExecContext(ctx,
			`DELETE FROM app_versions WHERE id = $1`, v.ID); err != nil {
			return errors.Wrap(err, "delete version")
		}

		var remaining int64
		if err = tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM app_versions WHERE package_name = $1`,
			packageName).Scan(&remaining); err != nil {
			return errors.Wrap(err, "count versions")
		}
		if remaining > 0 {
			return nil
		}

		var iconPath sql.NullString
		if err = tx.QueryRowContext(ctx,
			`SELECT icon_path FROM apps WHERE package_name = $1`,
			packageName).Scan(&iconPath); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return errors.Wrap(err, "get icon path")
		}
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM apps WHERE package_name = $1`, packageName); err != nil {
			return errors.Wrap(err, "delete app")
		}

		result.AppDeleted = true
		result.IconPath = nullStringPtr(iconPath)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Counts returns the number of apps and versions.
func (r *Repository) Counts(ctx context.Context) (apps, versions int64, err error) {
	if err = r.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(1) FROM apps), (SELECT COUNT(1) FROM app_versions)`).
		Scan(&apps, &versions); err != nil {
		return 0, 0, errors.Wrap(err, "count catalog")
	}
	return apps, versions, nil
}

func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}
