package artifact

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/pkg/log"
)

// Store saves and loads bundles in one directory.
//
// A bundle becomes visible only when its manifest row is inserted, which
// happens after the file has been written, synced and renamed into place.
// Readers therefore never observe a partially written artifact.
type Store struct {
	dir    string
	db     *sql.DB
	logger log.Logger
	now    func() time.Time

	mu sync.Mutex // serialises Save and Reindex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(l log.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// Open creates dir if needed and opens (and migrates) its manifest.
func Open(dir string, opts ...StoreOption) (*Store, error) {
	if dir == "" {
		return nil, errors.NewValidationError("artifacts.dir", "must not be empty", dir)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "create artifact directory")
	}
	db, err := openManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	s := &Store{dir: dir, db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.GetLoggerWithName("ArtifactStore")
	}
	return s, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

// Close closes the manifest.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists b and records it in the manifest. ID and CreatedAt are
// assigned here; the ID is strictly greater than every ID already in the
// manifest even if the clock has not advanced. Params are normalised so nil
// values survive encoding. b is updated in place and the new entry returned.
func (s *Store) Save(ctx context.Context, b *Bundle) (Entry, error) {
	if b == nil || b.Pipeline == nil || !b.Pipeline.IsFitted() {
		return Entry{}, errors.NewUnfittedPipelineError("ArtifactStore", "Save")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	created := s.now().UTC().Truncate(time.Microsecond)
	latest, ok, err := latestEntry(ctx, s.db)
	if err != nil {
		return Entry{}, err
	}
	if ok {
		if last, err := ParseID(latest.ID); err == nil && !created.After(last) {
			created = last.Add(time.Microsecond)
		}
	}
	b.CreatedAt = created
	b.ID = NewID(created)
	if b.RunID == "" {
		b.RunID = uuid.NewString()
	}
	b.Params = NormalizeParams(b.Params)

	name := b.Filename()
	sum, size, err := s.writeAtomic(name, b)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{
		ID:        b.ID,
		Filename:  name,
		Family:    b.Family,
		RunID:     b.RunID,
		Scoring:   b.Scoring,
		CVScore:   b.CVScore,
		SHA256:    sum,
		SizeBytes: size,
		CreatedAt: created,
	}
	if e.Seq, err = insertEntry(ctx, s.db, e); err != nil {
		_ = os.Remove(filepath.Join(s.dir, name))
		return Entry{}, err
	}

	s.logger.Info("Artifact saved",
		log.OperationKey, log.OperationSave,
		log.PhaseKey, log.PhasePersisted,
		log.ArtifactIDKey, b.ID,
		log.ModelNameKey, b.Family,
		log.ScoreKey, b.CVScore,
		log.PathKey, filepath.Join(s.dir, name),
	)
	return e, nil
}

// writeAtomic encodes b into a temporary file in the artifact directory,
// syncs it, renames it to name and syncs the directory.
func (s *Store) writeAtomic(name string, b *Bundle) (sum string, size int64, err error) {
	tmp, err := os.CreateTemp(s.dir, ".model-*.tmp")
	if err != nil {
		return "", 0, errors.Wrap(err, "create temporary artifact")
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	h := sha256.New()
	cw := &countingWriter{w: io.MultiWriter(tmp, h)}
	bw := bufio.NewWriter(cw)
	if err = model.SaveModelToWriter(b, bw); err != nil {
		return "", 0, err
	}
	if err = bw.Flush(); err != nil {
		return "", 0, errors.Wrap(err, "write artifact")
	}
	if err = tmp.Sync(); err != nil {
		return "", 0, errors.Wrap(err, "sync artifact")
	}
	if err = tmp.Close(); err != nil {
		return "", 0, errors.Wrap(err, "close artifact")
	}
	if err = os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", 0, errors.Wrap(err, "rename artifact")
	}
	if err = syncDir(s.dir); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrap(err, "open artifact directory")
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return errors.Wrap(err, "sync artifact directory")
	}
	return nil
}

// LatestID returns the ID of the most recent artifact.
func (s *Store) LatestID(ctx context.Context) (string, error) {
	e, ok, err := latestEntry(ctx, s.db)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.NewNoArtifactFoundError(s.dir)
	}
	return e.ID, nil
}

// LoadLatest loads the most recent artifact. An empty manifest yields
// NoArtifactFoundError. If the latest artifact cannot be read the error is a
// CorruptArtifactError; older artifacts are never used as a fallback.
func (s *Store) LoadLatest(ctx context.Context) (*Bundle, error) {
	e, ok, err := latestEntry(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewNoArtifactFoundError(s.dir)
	}
	return s.load(e)
}

// Load loads the artifact with the given ID.
func (s *Store) Load(ctx context.Context, id string) (*Bundle, error) {
	e, ok, err := entryByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewValidationError("artifact_id", "no such artifact", id)
	}
	return s.load(e)
}

func (s *Store) load(e Entry) (*Bundle, error) {
	path := filepath.Join(s.dir, e.Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewCorruptArtifactError(e.ID, path, "cannot read file", err)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != e.SHA256 {
		return nil, errors.NewCorruptArtifactError(e.ID, path, "checksum mismatch", nil)
	}
	b, err := decodeBundle(data)
	if err != nil {
		return nil, errors.NewCorruptArtifactError(e.ID, path, "cannot decode bundle", err)
	}
	if b.ID != e.ID {
		return nil, errors.NewCorruptArtifactError(e.ID, path, "bundle ID "+b.ID+" does not match manifest", nil)
	}

	s.logger.Info("Artifact loaded",
		log.OperationKey, log.OperationLoad,
		log.PhaseKey, log.PhaseLoaded,
		log.ArtifactIDKey, e.ID,
		log.ModelNameKey, b.Family,
		log.PathKey, path,
	)
	return b, nil
}

func decodeBundle(data []byte) (b *Bundle, err error) {
	defer errors.Recover(&err, "artifact.decode")
	b = &Bundle{}
	if err := model.LoadModelFromReader(b, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	if b.Pipeline == nil || !b.Pipeline.IsFitted() {
		return nil, errors.New("bundle holds no fitted pipeline")
	}
	return b, nil
}

// List returns every manifest entry, oldest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	return listEntries(ctx, s.db)
}

// Reindex adds conforming artifact files that are missing from the manifest,
// in creation order, and returns how many were added. Files that cannot be
// decoded are skipped and logged.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known, err := knownFilenames(ctx, s.db)
	if err != nil {
		return 0, err
	}
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, errors.Wrap(err, "read artifact directory")
	}

	var names []string
	for _, de := range dirEntries {
		if de.IsDir() || known[de.Name()] {
			continue
		}
		if _, ok := ParseFilename(de.Name()); ok {
			names = append(names, de.Name())
		}
	}
	sort.Strings(names)

	added := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return added, errors.Wrapf(err, "read %s", name)
		}
		id, _ := ParseFilename(name)
		b, err := decodeBundle(data)
		if err == nil && b.ID != id {
			err = errors.Newf("bundle ID %s does not match file name", b.ID)
		}
		if err != nil {
			s.logger.Warn("Skipping unreadable artifact", err, log.PathKey, path, log.ArtifactIDKey, id)
			continue
		}
		sum := sha256.Sum256(data)
		e := Entry{
			ID:        id,
			Filename:  name,
			Family:    b.Family,
			RunID:     b.RunID,
			Scoring:   b.Scoring,
			CVScore:   b.CVScore,
			SHA256:    hex.EncodeToString(sum[:]),
			SizeBytes: int64(len(data)),
			CreatedAt: b.CreatedAt,
		}
		if _, err := insertEntry(ctx, s.db, e); err != nil {
			return added, err
		}
		added++
	}

	s.logger.Info("Artifact manifest reindexed", log.PathKey, s.dir, log.ArtifactCountKey, added)
	return added, nil
}
