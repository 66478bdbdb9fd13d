package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event kinds recorded against a session.
const (
	EventOpenFailed  = "open_failed"
	EventResync      = "resync"
	EventFrameSample = "frame_sample"
	EventStopped     = "stopped"
)

// Session is one run of the acquisition task.
type Session struct {
	ID             string     `json:"session_id"`
	Device         string     `json:"device"`
	Mode           string     `json:"mode"`
	StartedAt      time.Time  `json:"started_at"`
	StoppedAt      *time.Time `json:"stopped_at,omitempty"`
	Cycles         uint64     `json:"cycles"`
	Frames         uint64     `json:"frames"`
	Resyncs        uint64     `json:"resyncs"`
	IOErrors       uint64     `json:"io_errors"`
	ProtocolErrors uint64     `json:"protocol_errors"`
	MeanCycleMs    *float64   `json:"mean_cycle_ms,omitempty"`
	FPATempK       *float64   `json:"fpa_temp_k,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// SessionSummary is written when a session ends.
type SessionSummary struct {
	StoppedAt      time.Time
	Cycles         uint64
	Frames         uint64
	Resyncs        uint64
	IOErrors       uint64
	ProtocolErrors uint64
	MeanCycleMs    float64
	Error          string
}

// Event is a timestamped session event with a JSON detail payload.
type Event struct {
	ID        int64           `json:"event_id"`
	SessionID string          `json:"session_id"`
	Kind      string          `json:"kind"`
	At        time.Time       `json:"at"`
	Detail    json.RawMessage `json:"detail,omitempty"`
}

func toUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnix(f float64) time.Time {
	return time.Unix(0, int64(f*1e9)).UTC()
}

// StartSession inserts a new session and returns it with a fresh ID.
func (db *DB) StartSession(device, mode string, at time.Time) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		Device:    device,
		Mode:      mode,
		StartedAt: at.UTC(),
	}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, device, mode, started_unix) VALUES (?, ?, ?, ?)`,
		s.ID, s.Device, s.Mode, toUnix(at),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// RecordEvent appends an event; detail is stored as JSON and may be nil.
func (db *DB) RecordEvent(sessionID, kind string, at time.Time, detail any) error {
	var payload sql.NullString
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("failed to encode %s detail: %w", kind, err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}
	_, err := db.Exec(
		`INSERT INTO session_events (session_id, kind, at_unix, detail) VALUES (?, ?, ?, ?)`,
		sessionID, kind, toUnix(at), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", kind, err)
	}
	return nil
}

// SetFPATemperature stores the sensor temperature read at session start.
func (db *DB) SetFPATemperature(sessionID string, kelvin float64) error {
	_, err := db.Exec(`UPDATE sessions SET fpa_temp_k = ? WHERE session_id = ?`, kelvin, sessionID)
	return err
}

// FinishSession stores the final counters of a session.
func (db *DB) FinishSession(sessionID string, sum SessionSummary) error {
	var errText sql.NullString
	if sum.Error != "" {
		errText = sql.NullString{String: sum.Error, Valid: true}
	}
	res, err := db.Exec(
		`UPDATE sessions SET stopped_unix = ?, cycles = ?, frames = ?, resyncs = ?,
			io_errors = ?, protocol_errors = ?, mean_cycle_ms = ?, error = ?
		WHERE session_id = ?`,
		toUnix(sum.StoppedAt), int64(sum.Cycles), int64(sum.Frames), int64(sum.Resyncs),
		int64(sum.IOErrors), int64(sum.ProtocolErrors), sum.MeanCycleMs, errText,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return nil
}

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	rows, err := db.Query(`SELECT session_id, device, mode, started_unix, stopped_unix,
			cycles, frames, resyncs, io_errors, protocol_errors, mean_cycle_ms, fpa_temp_k, error
		FROM sessions ORDER BY started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s                       Session
			started                 float64
			stopped, mean, fpaTempK sql.NullFloat64
			cycles, frames, resyncs int64
			ioErrors, protoErrors   int64
			errText                 sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Device, &s.Mode, &started, &stopped,
			&cycles, &frames, &resyncs, &ioErrors, &protoErrors, &mean, &fpaTempK, &errText); err != nil {
			return nil, err
		}
		s.StartedAt = fromUnix(started)
		if stopped.Valid {
			t := fromUnix(stopped.Float64)
			s.StoppedAt = &t
		}
		if mean.Valid {
			s.MeanCycleMs = &mean.Float64
		}
		if fpaTempK.Valid {
			s.FPATempK = &fpaTempK.Float64
		}
		s.Cycles, s.Frames, s.Resyncs = uint64(cycles), uint64(frames), uint64(resyncs)
		s.IOErrors, s.ProtocolErrors = uint64(ioErrors), uint64(protoErrors)
		s.Error = errText.String
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Events returns up to limit events of a session in time order.
func (db *DB) Events(sessionID string, limit int) ([]Event, error) {
	rows, err := db.Query(`SELECT event_id, session_id, kind, at_unix, detail
		FROM session_events WHERE session_id = ? ORDER BY at_unix, event_id LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e      Event
			at     float64
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &at, &detail); err != nil {
			return nil, err
		}
		e.At = fromUnix(at)
		if detail.Valid {
			e.Detail = json.RawMessage(detail.String)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
