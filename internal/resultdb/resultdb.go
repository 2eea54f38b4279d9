// Package resultdb persists watering session outcomes, the command stream
// sent to the actuator, and moisture telemetry in a local SQLite database.
package resultdb

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/planthopper/planthopper/internal/control"
)

// schema.sql defines the sessions, commands, and moisture_readings tables.
//
//go:embed schema.sql
var schemaSQL string

type ResultDB struct {
	*sql.DB
}

// Open opens (or creates) the database at path and applies the schema. Use
// ":memory:" for an ephemeral database.
func Open(path string) (*ResultDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply result db schema: %w", err)
	}

	return &ResultDB{db}, nil
}

// RecordSession stores the final outcome of one watering session.
func (rdb *ResultDB) RecordSession(sessionID, plantID string, markerID int, out control.Outcome, started, finished time.Time) error {
	query := `
		INSERT INTO sessions (session_id, plant_id, marker_id, success, reason, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := rdb.Exec(query, sessionID, plantID, markerID, out.Success, out.Reason,
		started.UTC().Format(time.RFC3339Nano), finished.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sessionID, err)
	}
	return nil
}

// RecordCommand stores one command line sent during a session.
func (rdb *ResultDB) RecordCommand(sessionID, line string, at time.Time) error {
	query := `
		INSERT INTO commands (session_id, line, sent_at)
		VALUES (?, ?, ?)
	`

	_, err := rdb.Exec(query, sessionID, line, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert command for session %s: %w", sessionID, err)
	}
	return nil
}

// RecordMoisture stores one moisture reading. fraction is in [0,1].
func (rdb *ResultDB) RecordMoisture(sensorID string, fraction float64, at time.Time) error {
	query := `
		INSERT INTO moisture_readings (sensor_id, fraction, read_at)
		VALUES (?, ?, ?)
	`

	_, err := rdb.Exec(query, sensorID, fraction, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert moisture reading for %s: %w", sensorID, err)
	}
	return nil
}

// SessionRow is one persisted session outcome.
type SessionRow struct {
	SessionID string
	PlantID   string
	MarkerID  int
	Success   bool
	Reason    string
}

// Session fetches one session by id.
func (rdb *ResultDB) Session(sessionID string) (SessionRow, error) {
	var row SessionRow
	err := rdb.QueryRow(`
		SELECT session_id, plant_id, marker_id, success, reason
		FROM sessions WHERE session_id = ?
	`, sessionID).Scan(&row.SessionID, &row.PlantID, &row.MarkerID, &row.Success, &row.Reason)
	if err != nil {
		return SessionRow{}, err
	}
	return row, nil
}

// SessionCommands returns the command lines of a session in send order.
func (rdb *ResultDB) SessionCommands(sessionID string) ([]string, error) {
	rows, err := rdb.Query(`
		SELECT line FROM commands
		WHERE session_id = ?
		ORDER BY command_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// LatestMoisture returns the most recent reading for a sensor, or
// sql.ErrNoRows if none exists.
func (rdb *ResultDB) LatestMoisture(sensorID string) (float64, error) {
	var fraction float64
	err := rdb.QueryRow(`
		SELECT fraction FROM moisture_readings
		WHERE sensor_id = ?
		ORDER BY reading_id DESC
		LIMIT 1
	`, sensorID).Scan(&fraction)
	if err != nil {
		return 0, err
	}
	return fraction, nil
}
