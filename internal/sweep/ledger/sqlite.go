package ledger

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/sweep/job"
)

var jobsTable = goqu.T("jobs")

type jobRow struct {
	Identity    string         `db:"identity"`
	Label       string         `db:"label"`
	Command     string         `db:"command"`
	Parameters  string         `db:"parameters"`
	Status      string         `db:"status"`
	Submissions int            `db:"submissions"`
	Result      sql.NullString `db:"result"`
	UpdatedAt   int64          `db:"updated_at"`
}

// Sqlite is a Ledger backed by a local SQLite database file.
type Sqlite struct {
	db     *sql.DB
	goquDb *goqu.Database
	// SQLite allows a single writer at a time.
	writeLock sync.Mutex
}

func NewSqlite(path string) (*Sqlite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "could not make directory %s for sqlite db", dir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening sqlite db at %s", path)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			identity TEXT NOT NULL,
			label TEXT NOT NULL,
			command TEXT NOT NULL,
			parameters TEXT NOT NULL,
			status TEXT NOT NULL,
			submissions INT NOT NULL,
			result TEXT,
			updated_at INT NOT NULL,
			PRIMARY KEY(identity))`)
	if err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_label ON jobs (label)`); err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}
	return &Sqlite{db: db, goquDb: goqu.New("sqlite3", db)}, nil
}

func (s *Sqlite) Record(ctx *sweepcontext.Context, entry *Entry) error {
	parameters, err := json.Marshal(entry.Parameters)
	if err != nil {
		return errors.WithStack(err)
	}
	var result sql.NullString
	if entry.Result != nil {
		result = sql.NullString{String: formatResult(entry.Result), Valid: true}
	}

	row := jobRow{
		Identity:    entry.Identity,
		Label:       entry.Label,
		Command:     entry.Command,
		Parameters:  string(parameters),
		Status:      entry.Status.String(),
		Submissions: entry.Submissions,
		Result:      result,
		UpdatedAt:   entry.UpdatedAt.UnixNano(),
	}
	update := goqu.Record{}
	for _, column := range []string{"label", "command", "parameters", "status", "submissions", "result", "updated_at"} {
		update[column] = goqu.I("excluded." + column)
	}
	ds := s.goquDb.
		Insert(jobsTable).
		Rows(row).
		OnConflict(goqu.DoUpdate("identity", update)).
		Prepared(true)

	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	_, err = ds.Executor().ExecContext(ctx)
	return errors.WithStack(err)
}

func (s *Sqlite) Lookup(ctx *sweepcontext.Context, identity string) (*Entry, bool, error) {
	var row jobRow
	found, err := s.goquDb.
		From(jobsTable).
		Where(goqu.C("identity").Eq(identity)).
		ScanStructContext(ctx, &row)
	if err != nil || !found {
		return nil, false, errors.WithStack(err)
	}
	entry, err := row.toEntry()
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (s *Sqlite) List(ctx *sweepcontext.Context, label string) ([]*Entry, error) {
	ds := s.goquDb.From(jobsTable)
	if label != "" {
		ds = ds.Where(goqu.C("label").Eq(label))
	}
	ds = ds.Order(goqu.C("updated_at").Asc(), goqu.C("identity").Asc())

	var rows []jobRow
	if err := ds.Prepared(true).ScanStructsContext(ctx, &rows); err != nil {
		return nil, errors.WithStack(err)
	}
	rv := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		rv = append(rv, entry)
	}
	return rv, nil
}

func (s *Sqlite) Close() error {
	return errors.WithStack(s.db.Close())
}

func (r jobRow) toEntry() (*Entry, error) {
	status, err := job.ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}
	var parameters map[string]string
	if err := json.Unmarshal([]byte(r.Parameters), &parameters); err != nil {
		return nil, errors.WithStack(err)
	}
	var result *float64
	if r.Result.Valid {
		result, err = parseResult(r.Result.String)
		if err != nil {
			return nil, err
		}
	}
	return &Entry{
		Identity:    r.Identity,
		Label:       r.Label,
		Command:     r.Command,
		Parameters:  parameters,
		Status:      status,
		Submissions: r.Submissions,
		Result:      result,
		UpdatedAt:   time.Unix(0, r.UpdatedAt),
	}, nil
}
