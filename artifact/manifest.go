package artifact

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ManifestFile is the name of the manifest database inside the artifact dir.
const ManifestFile = "manifest.db"

// Entry is one row of the manifest.
type Entry struct {
	Seq       int64
	ID        string
	Filename  string
	Family    string
	RunID     string
	Scoring   string
	CVScore   float64
	SHA256    string
	SizeBytes int64
	CreatedAt time.Time
}

func openManifest(path string) (*sql.DB, error) {
	if err := migrateManifest(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open manifest")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping manifest")
	}
	return db, nil
}

// migrateManifest applies the embedded schema migrations on a dedicated
// connection; the migrator owns and closes it.
func migrateManifest(path string) error {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return errors.Wrap(err, "open manifest for migration")
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		_ = db.Close()
		return errors.Wrap(err, "manifest migration driver")
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		_ = driver.Close()
		return errors.Wrap(err, "manifest migration source")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		_ = src.Close()
		_ = driver.Close()
		return errors.Wrap(err, "create manifest migrator")
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migrate manifest")
	}
	return nil
}

const entryColumns = `seq, id, filename, family, run_id, scoring, cv_score, sha256, size_bytes, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var e Entry
	var created string
	if err := r.Scan(&e.Seq, &e.ID, &e.Filename, &e.Family, &e.RunID, &e.Scoring,
		&e.CVScore, &e.SHA256, &e.SizeBytes, &created); err != nil {
		return Entry{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "manifest row %s: created_at", e.ID)
	}
	e.CreatedAt = t
	return e, nil
}

func insertEntry(ctx context.Context, db *sql.DB, e Entry) (int64, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO artifacts (id, filename, family, run_id, scoring, cv_score, sha256, size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Filename, e.Family, e.RunID, e.Scoring, e.CVScore, e.SHA256, e.SizeBytes,
		e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, errors.Wrapf(err, "insert manifest row %s", e.ID)
	}
	return res.LastInsertId()
}

// latestEntry returns the entry with the greatest ID, which is the most
// recent creation time.
func latestEntry(ctx context.Context, db *sql.DB) (Entry, bool, error) {
	row := db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM artifacts ORDER BY id DESC LIMIT 1`)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrap(err, "query latest artifact")
	}
	return e, true, nil
}

func entryByID(ctx context.Context, db *sql.DB, id string) (Entry, bool, error) {
	row := db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM artifacts WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "query artifact %s", id)
	}
	return e, true, nil
}

func listEntries(ctx context.Context, db *sql.DB) ([]Entry, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+entryColumns+` FROM artifacts ORDER BY id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "list artifacts")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func knownFilenames(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT filename FROM artifacts`)
	if err != nil {
		return nil, errors.Wrap(err, "list manifest filenames")
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		known[name] = true
	}
	return known, rows.Err()
}
