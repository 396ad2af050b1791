package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jgoulah/flumescraper/pkg/models"
	_ "modernc.org/sqlite"
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
}

// DeviceSummary aggregates the stored samples of one device
type DeviceSummary struct {
	DeviceID    string
	Samples     int
	Unpublished int
	TotalValue  float64
	LastFetched time.Time
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		value REAL NOT NULL,
		bucket TEXT NOT NULL,
		created_at TEXT NOT NULL,
		published INTEGER DEFAULT 0,
		UNIQUE(device_id, timestamp, bucket)
	);
	CREATE INDEX IF NOT EXISTS idx_samples_device ON usage_samples(device_id);
	CREATE INDEX IF NOT EXISTS idx_samples_timestamp ON usage_samples(timestamp);
	CREATE INDEX IF NOT EXISTS idx_samples_published ON usage_samples(published);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// InsertSample stores a sample, ignoring one already stored for the same
// device, timestamp and bucket. It reports whether a row was added.
func (db *DB) InsertSample(s *models.UsageSample) (bool, error) {
	query := `
	INSERT OR IGNORE INTO usage_samples (device_id, timestamp, value, bucket, created_at)
	VALUES (?, ?, ?, ?, ?)
	`

	createdAt := time.Now().UTC().Format(time.RFC3339)
	res, err := db.conn.Exec(query, s.DeviceID, s.Timestamp, s.Value, s.Bucket, createdAt)
	if err != nil {
		return false, fmt.Errorf("inserting usage sample: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking inserted rows: %w", err)
	}
	return n > 0, nil
}

// ListSamples retrieves all samples of a device in chronological order
func (db *DB) ListSamples(deviceID string) ([]models.UsageSample, error) {
	return db.querySamples(`
	SELECT id, device_id, timestamp, value, bucket, published
	FROM usage_samples
	WHERE device_id = ?
	ORDER BY timestamp ASC
	`, deviceID)
}

// ListUnpublished retrieves samples of a device not yet published, oldest first
func (db *DB) ListUnpublished(deviceID string) ([]models.UsageSample, error) {
	return db.querySamples(`
	SELECT id, device_id, timestamp, value, bucket, published
	FROM usage_samples
	WHERE device_id = ? AND published = 0
	ORDER BY timestamp ASC
	`, deviceID)
}

func (db *DB) querySamples(query string, args ...any) ([]models.UsageSample, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying usage samples: %w", err)
	}
	defer rows.Close()

	var results []models.UsageSample
	for rows.Next() {
		var s models.UsageSample
		if err := rows.Scan(&s.ID, &s.DeviceID, &s.Timestamp, &s.Value, &s.Bucket, &s.Published); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		results = append(results, s)
	}

	return results, rows.Err()
}

// ListDevices summarizes every device that has stored samples
func (db *DB) ListDevices() ([]DeviceSummary, error) {
	query := `
	SELECT device_id, COUNT(*), SUM(CASE WHEN published = 0 THEN 1 ELSE 0 END), SUM(value), MAX(created_at)
	FROM usage_samples
	GROUP BY device_id
	ORDER BY device_id
	`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var results []DeviceSummary
	for rows.Next() {
		var d DeviceSummary
		var lastFetched string
		if err := rows.Scan(&d.DeviceID, &d.Samples, &d.Unpublished, &d.TotalValue, &lastFetched); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		d.LastFetched, err = time.Parse(time.RFC3339, lastFetched)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, d)
	}

	return results, rows.Err()
}

// MarkPublished marks a usage sample as published
func (db *DB) MarkPublished(id int) error {
	query := `UPDATE usage_samples SET published = 1 WHERE id = ?`
	_, err := db.conn.Exec(query, id)
	if err != nil {
		return fmt.Errorf("marking sample as published: %w", err)
	}
	return nil
}
