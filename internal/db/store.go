package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rustpanel-project/rustpanel/internal/events"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store holds saved servers and status samples.
type Store struct {
	db *Database
}

// Server is a saved bridge endpoint. Password is only persisted when
// SavePassword is set.
type Server struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	Password      string    `json:"-"`
	SavePassword  bool      `json:"save_password"`
	LastConnected time.Time `json:"last_connected,omitempty"`
}

// Sample is one recorded ServerInfo reading.
type Sample struct {
	RecordedAt time.Time `json:"recorded_at"`
	Hostname   string    `json:"hostname"`
	Players    int32     `json:"players"`
	MaxPlayers int32     `json:"max_players"`
	Queued     int32     `json:"queued"`
	Joining    int32     `json:"joining"`
	Entities   int32     `json:"entities"`
	FPS        float32   `json:"fps"`
	UptimeSec  int32     `json:"uptime_seconds"`
}

// Open opens the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: database}
	if err := s.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Database returns the underlying database handle.
func (s *Store) Database() *Database {
	return s.db
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS servers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT '',
			host TEXT NOT NULL,
			port INTEGER NOT NULL,
			password TEXT NOT NULL DEFAULT '',
			save_password INTEGER NOT NULL DEFAULT 0,
			last_connected INTEGER NOT NULL DEFAULT 0,
			UNIQUE (host, port)
		);

		CREATE TABLE IF NOT EXISTS status_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recorded_at INTEGER NOT NULL,
			hostname TEXT NOT NULL DEFAULT '',
			players INTEGER NOT NULL DEFAULT 0,
			max_players INTEGER NOT NULL DEFAULT 0,
			queued INTEGER NOT NULL DEFAULT 0,
			joining INTEGER NOT NULL DEFAULT 0,
			entities INTEGER NOT NULL DEFAULT 0,
			fps REAL NOT NULL DEFAULT 0,
			uptime INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_status_samples_recorded_at ON status_samples(recorded_at);
	`

	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("database schema migrated")
	return nil
}

// SaveServer inserts or updates a server keyed by host and port and
// returns its id.
func (s *Store) SaveServer(ctx context.Context, srv Server) (int64, error) {
	password := ""
	if srv.SavePassword {
		password = srv.Password
	}

	var id int64
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO servers (name, host, port, password, save_password)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(host, port) DO UPDATE SET
				name = excluded.name,
				password = excluded.password,
				save_password = excluded.save_password`,
			srv.Name, srv.Host, srv.Port, password, boolToInt(srv.SavePassword))
		if err != nil {
			return fmt.Errorf("failed to save server: %w", err)
		}
		return tx.QueryRowContext(ctx,
			"SELECT id FROM servers WHERE host = ? AND port = ?", srv.Host, srv.Port).Scan(&id)
	})
	return id, err
}

// ListServers returns saved servers, most recently connected first.
func (s *Store) ListServers(ctx context.Context) ([]Server, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, host, port, password, save_password, last_connected
		FROM servers ORDER BY last_connected DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var out []Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

// GetServer returns the server with the given id.
func (s *Store) GetServer(ctx context.Context, id int64) (Server, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, host, port, password, save_password, last_connected
		FROM servers WHERE id = ?`, id)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Server{}, ErrNotFound
	}
	return srv, err
}

// LastServer returns the most recently connected server.
func (s *Store) LastServer(ctx context.Context) (Server, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, host, port, password, save_password, last_connected
		FROM servers WHERE last_connected > 0 ORDER BY last_connected DESC LIMIT 1`)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Server{}, ErrNotFound
	}
	return srv, err
}

// DeleteServer removes a saved server.
func (s *Store) DeleteServer(ctx context.Context, id int64) error {
	res, err := s.db.Exec(ctx, "DELETE FROM servers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchServer records a successful connection, creating the row if needed.
func (s *Store) TouchServer(ctx context.Context, host string, port int, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO servers (host, port, last_connected) VALUES (?, ?, ?)
		ON CONFLICT(host, port) DO UPDATE SET last_connected = excluded.last_connected`,
		host, port, at.Unix())
	if err != nil {
		return fmt.Errorf("failed to record connection: %w", err)
	}
	return nil
}

// RecordSample stores one ServerInfo reading.
func (s *Store) RecordSample(ctx context.Context, info events.ServerInfo, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO status_samples
			(recorded_at, hostname, players, max_players, queued, joining, entities, fps, uptime)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		at.Unix(), info.Hostname, info.PlayerCount, info.MaxPlayers, info.QueuedPlayers,
		info.JoiningPlayers, info.EntityCount, info.FPS, info.Uptime)
	if err != nil {
		return fmt.Errorf("failed to record sample: %w", err)
	}
	return nil
}

// History returns samples recorded at or after since, oldest first,
// capped at limit (0 means no cap).
func (s *Store) History(ctx context.Context, since time.Time, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(ctx, `
		SELECT recorded_at, hostname, players, max_players, queued, joining, entities, fps, uptime
		FROM (
			SELECT * FROM status_samples WHERE recorded_at >= ?
			ORDER BY recorded_at DESC, id DESC LIMIT ?
		) ORDER BY recorded_at ASC`, since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var smp Sample
		var at int64
		if err := rows.Scan(&at, &smp.Hostname, &smp.Players, &smp.MaxPlayers, &smp.Queued,
			&smp.Joining, &smp.Entities, &smp.FPS, &smp.UptimeSec); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		smp.RecordedAt = time.Unix(at, 0)
		out = append(out, smp)
	}
	return out, rows.Err()
}

// PruneSamples deletes samples recorded before cutoff.
func (s *Store) PruneSamples(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(ctx, "DELETE FROM status_samples WHERE recorded_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanServer(row rowScanner) (Server, error) {
	var srv Server
	var save int
	var last int64
	if err := row.Scan(&srv.ID, &srv.Name, &srv.Host, &srv.Port, &srv.Password, &save, &last); err != nil {
		return Server{}, err
	}
	srv.SavePassword = save != 0
	if last > 0 {
		srv.LastConnected = time.Unix(last, 0)
	}
	return srv, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
