package procession

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// SQLiteSinkConfig configures the SQLite snapshot store.
type SQLiteSinkConfig struct {
	// Path to the SQLite database file.
	Path string `yaml:"path"`
	// JournalMode sets the SQLite journal mode (WAL, DELETE, ...).
	JournalMode string `yaml:"journal_mode"`
	// BusyTimeout is the lock acquisition timeout in milliseconds.
	BusyTimeout int `yaml:"busy_timeout"`
	// MaxConnections is the max number of database connections.
	MaxConnections int `yaml:"max_connections"`
}

// DefaultSQLiteSinkConfig returns default configuration.
func DefaultSQLiteSinkConfig() SQLiteSinkConfig {
	return SQLiteSinkConfig{
		Path:           "procession.db",
		JournalMode:    "WAL",
		BusyTimeout:    5000,
		MaxConnections: 4,
	}
}

// SQLiteSink stores named snapshots in a SQLite database, so serialized
// series can be browsed and managed with standard SQLite tools. It is a
// snapshot archive, not a storage engine: the in-memory series stays the
// source of truth and only whole serialized snapshots pass through here.
type SQLiteSink struct {
	db     *sql.DB
	config SQLiteSinkConfig
}

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	Name      string
	CreatedAt time.Time
	Format    string
	Size      int
}

// OpenSQLiteSink opens (creating if necessary) a snapshot store at the
// configured path.
func OpenSQLiteSink(config SQLiteSinkConfig) (*SQLiteSink, error) {
	if config.Path == "" {
		config.Path = "procession.db"
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 4
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d",
		config.Path, config.JournalMode, config.BusyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)

	sink := &SQLiteSink{db: db, config: config}
	if err := sink.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return sink, nil
}

func (s *SQLiteSink) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			name TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			format TEXT NOT NULL,
			data BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save serializes the series with cfg and stores it under name, replacing
// any previous snapshot with the same name.
func (s *SQLiteSink) Save(ctx context.Context, name string, p *Procession, cfg SnapshotConfig) error {
	data, err := EncodeSnapshot(p, cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (name, created_at, format, data) VALUES (?, ?, ?, ?)`,
		name, time.Now().UnixMilli(), cfg.Format.String(), data)
	return err
}

// Load rebuilds the named snapshot. Returns ErrSnapshotNotFound when no
// snapshot exists under name; cfg supplies the key for encrypted
// snapshots.
func (s *SQLiteSink) Load(ctx context.Context, name string, cfg SnapshotConfig) (*Procession, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM snapshots WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(data, cfg)
}

// List returns the stored snapshots in creation order.
func (s *SQLiteSink) List(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, created_at, format, length(data) FROM snapshots ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var createdAt int64
		if err := rows.Scan(&info.Name, &createdAt, &info.Format, &info.Size); err != nil {
			return nil, err
		}
		info.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes the named snapshot. Deleting an absent snapshot is not an
// error.
func (s *SQLiteSink) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE name = ?`, name)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
