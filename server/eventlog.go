package main

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Event types recorded for each room
const (
	EvtRoomCreated       = "room_created"
	EvtRoomDestroyed     = "room_destroyed"
	EvtPlayerJoined      = "player_joined"
	EvtPlayerLeft        = "player_left"
	EvtPlayerExpired     = "player_expired"
	EvtPlayerReconnected = "player_reconnected"
	EvtHostChanged       = "host_changed"
	EvtGameStarted       = "game_started"
	EvtCoinClaimed       = "coin_claimed"
)

const (
	eventBufSize    = 1024
	eventBatchSize  = 50
	eventFlushEvery = 5 * time.Second
	eventTimeFormat = "2006-01-02 15:04:05.000000"
)

// RoomEvent is a single lifecycle record
type RoomEvent struct {
	Type      string
	RoomID    string
	SessionID string
	Data      string // JSON metadata (optional)
	Timestamp time.Time
}

// EventLog appends room lifecycle events to SQLite with batched background
// writes. A nil *EventLog accepts and discards everything, so callers never
// branch on whether logging is configured. It only ever writes; room state is
// never restored from it.
type EventLog struct {
	conn   *sql.DB
	events chan RoomEvent
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// OpenEventLog opens (or creates) the database at path and starts the writer
func OpenEventLog(path string) (*EventLog, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if err := migrateEventLog(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate event log: %w", err)
	}

	el := &EventLog{
		conn:   conn,
		events: make(chan RoomEvent, eventBufSize),
		stop:   make(chan struct{}),
	}
	el.wg.Add(1)
	go el.writer()
	return el, nil
}

func migrateEventLog(conn *sql.DB) error {
	_, err := conn.Exec(`
	CREATE TABLE IF NOT EXISTS room_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		room_id TEXT NOT NULL,
		session_id TEXT,
		data TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_room_events_room ON room_events(room_id);
	CREATE INDEX IF NOT EXISTS idx_room_events_type ON room_events(event_type, created_at);
	`)
	return err
}

// Track enqueues an event (non-blocking)
func (el *EventLog) Track(evtType, roomID, sessionID, data string) {
	if el == nil {
		return
	}
	select {
	case el.events <- RoomEvent{
		Type:      evtType,
		RoomID:    roomID,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}:
	default:
		// buffer full, drop rather than stall a room
	}
}

// Close flushes pending events and closes the database
func (el *EventLog) Close() error {
	if el == nil {
		return nil
	}
	el.once.Do(func() { close(el.stop) })
	el.wg.Wait()
	return el.conn.Close()
}

// writer is the background goroutine that batches and writes events
func (el *EventLog) writer() {
	defer el.wg.Done()

	batch := make([]RoomEvent, 0, eventBatchSize)
	ticker := time.NewTicker(eventFlushEvery)
	defer ticker.Stop()

	for {
		select {
		case evt := <-el.events:
			batch = append(batch, evt)
			if len(batch) >= eventBatchSize {
				el.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				el.flush(batch)
				batch = batch[:0]
			}
		case <-el.stop:
			for {
				select {
				case evt := <-el.events:
					batch = append(batch, evt)
				default:
					el.flush(batch)
					return
				}
			}
		}
	}
}

// flush writes a batch of events in one transaction
func (el *EventLog) flush(events []RoomEvent) {
	if len(events) == 0 {
		return
	}
	tx, err := el.conn.Begin()
	if err != nil {
		log.Error().Err(err).Msg("event log: begin tx")
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO room_events (event_type, room_id, session_id, data, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		log.Error().Err(err).Msg("event log: prepare")
		return
	}
	defer stmt.Close()

	for _, evt := range events {
		sid := sql.NullString{String: evt.SessionID, Valid: evt.SessionID != ""}
		data := sql.NullString{String: evt.Data, Valid: evt.Data != ""}
		if _, err := stmt.Exec(evt.Type, evt.RoomID, sid, data, evt.Timestamp.Format(eventTimeFormat)); err != nil {
			log.Error().Err(err).Str("type", evt.Type).Msg("event log: insert")
		}
	}
	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("event log: commit")
	}
}

// EventCounts returns counts of each event type since the given time
func (el *EventLog) EventCounts(since time.Time) (map[string]int, error) {
	if el == nil {
		return map[string]int{}, nil
	}
	rows, err := el.conn.Query(`
		SELECT event_type, COUNT(*) FROM room_events
		WHERE created_at >= ?
		GROUP BY event_type`, since.UTC().Format(eventTimeFormat))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var evtType string
		var count int
		if err := rows.Scan(&evtType, &count); err != nil {
			return nil, err
		}
		result[evtType] = count
	}
	return result, rows.Err()
}

// RoomHistory returns the event types recorded for one room, oldest first
func (el *EventLog) RoomHistory(roomID string) ([]string, error) {
	if el == nil {
		return nil, nil
	}
	rows, err := el.conn.Query(`SELECT event_type FROM room_events WHERE room_id = ? ORDER BY id`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var evtType string
		if err := rows.Scan(&evtType); err != nil {
			return nil, err
		}
		result = append(result, evtType)
	}
	return result, rows.Err()
}
