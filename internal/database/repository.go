package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Iseeumhmm/projectace-demo/internal/geo"
	"github.com/Iseeumhmm/projectace-demo/internal/tracker"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("database: record not found")

const maxListLimit = 500

// SaveResult describes what was stored for one event.
type SaveResult struct {
	Event   VideoEvent
	Session ViewerSession
	// NewSession is true when this event created the session row.
	NewSession bool
}

// Repository stores events and session aggregates.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository wraps an initialized database.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// SaveEvent inserts the event and folds it into its session in a single
// transaction.
func (r *Repository) SaveEvent(ctx context.Context, evt tracker.Event, loc geo.Geo) (SaveResult, error) {
	results, err := r.SaveEvents(ctx, []tracker.Event{evt}, loc)
	if err != nil {
		return SaveResult{}, err
	}
	return results[0], nil
}

// SaveEvents stores a batch in one transaction. Either every event and its
// session update is committed or none is. Results follow the batch order.
func (r *Repository) SaveEvents(ctx context.Context, batch []tracker.Event, loc geo.Geo) ([]SaveResult, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	receivedAt := r.now().UTC()

	results := make([]SaveResult, 0, len(batch))
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, evt := range batch {
			res, err := saveEvent(tx, NewVideoEvent(evt, loc, receivedAt))
			if err != nil {
				return fmt.Errorf("event %d: %w", i, err)
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func saveEvent(tx *gorm.DB, row VideoEvent) (SaveResult, error) {
	if err := tx.Create(&row).Error; err != nil {
		return SaveResult{}, fmt.Errorf("failed to insert event: %w", err)
	}

	seed := ViewerSession{
		SessionID:  row.SessionID,
		ViewerID:   row.ViewerID,
		PlaybackID: row.PlaybackID,
		FirstSeen:  row.ReceivedAt,
		LastSeen:   row.ReceivedAt,
	}
	created := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed)
	if created.Error != nil {
		return SaveResult{}, fmt.Errorf("failed to create session: %w", created.Error)
	}

	var session ViewerSession
	if err := tx.First(&session, "session_id = ?", row.SessionID).Error; err != nil {
		return SaveResult{}, fmt.Errorf("failed to load session: %w", err)
	}
	session.apply(&row)
	if err := tx.Save(&session).Error; err != nil {
		return SaveResult{}, fmt.Errorf("failed to update session: %w", err)
	}
	return SaveResult{Event: row, Session: session, NewSession: created.RowsAffected == 1}, nil
}

// GetSession returns one session aggregate or ErrNotFound.
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*ViewerSession, error) {
	var session ViewerSession
	err := r.db.WithContext(ctx).First(&session, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// ListSessionEvents returns a session's events in arrival order.
func (r *Repository) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]VideoEvent, error) {
	var events []VideoEvent
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Limit(clampLimit(limit)).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// ListSessionsByPlayback pages through the sessions of one video, most
// recently seen first, and returns the total count.
func (r *Repository) ListSessionsByPlayback(ctx context.Context, playbackID string, limit, offset int) ([]ViewerSession, int64, error) {
	scope := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&ViewerSession{}).Where("playback_id = ?", playbackID)
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	if offset < 0 {
		offset = 0
	}
	var sessions []ViewerSession
	err := scope().Order("last_seen DESC").Limit(clampLimit(limit)).Offset(offset).Find(&sessions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, total, nil
}

// Ping checks the connection.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
