package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mwielgat/agentd/core"
)

// sessionRow is the persisted form of a session plus its working memory,
// kept as a JSON column so the schema stays a plain status register.
type sessionRow struct {
	SessionID string `gorm:"primaryKey;column:session_id"`
	Status    string `gorm:"column:status;index"`
	StateJSON string `gorm:"column:state_json"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (sessionRow) TableName() string { return "sessions" }

// turnRow persists one turn. Sequence preserves insertion order per session;
// the unique index doubles as the append-only guarantee at the schema level.
type turnRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"column:session_id;uniqueIndex:idx_session_seq,priority:1"`
	Sequence  int64  `gorm:"column:sequence;uniqueIndex:idx_session_seq,priority:2"`
	TurnID    string `gorm:"column:turn_id"`
	Role      string `gorm:"column:role"`
	Content   string `gorm:"column:content"`
	ToolName  string `gorm:"column:tool_name"`
	CallID    string `gorm:"column:call_id"`
	Arguments string `gorm:"column:arguments"`
	Outcome   string `gorm:"column:outcome"`
	ErrorKind string `gorm:"column:error_kind"`
	ElapsedNS int64  `gorm:"column:elapsed_ns"`
	Timestamp time.Time
}

func (turnRow) TableName() string { return "turns" }

func (r turnRow) toTurn() core.Turn {
	return core.Turn{
		ID:        r.TurnID,
		Role:      core.Role(r.Role),
		Content:   r.Content,
		ToolName:  r.ToolName,
		CallID:    r.CallID,
		Arguments: r.Arguments,
		Outcome:   core.Outcome(r.Outcome),
		ErrorKind: core.ErrorKind(r.ErrorKind),
		Elapsed:   time.Duration(r.ElapsedNS),
		Timestamp: r.Timestamp,
	}
}

func turnRowFrom(sessionID string, seq int64, t core.Turn) turnRow {
	return turnRow{
		SessionID: sessionID,
		Sequence:  seq,
		TurnID:    t.ID,
		Role:      string(t.Role),
		Content:   t.Content,
		ToolName:  t.ToolName,
		CallID:    t.CallID,
		Arguments: t.Arguments,
		Outcome:   string(t.Outcome),
		ErrorKind: string(t.ErrorKind),
		ElapsedNS: int64(t.Elapsed),
		Timestamp: t.Timestamp,
	}
}

// GormStore is a Store backed by SQLite through GORM, giving sessions
// durability across process restarts.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens (or creates) the database at dsn and migrates the
// session/turn tables.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	store := &GormStore{db: db}
	if err := db.AutoMigrate(&sessionRow{}, &turnRow{}); err != nil {
		return nil, &StorageError{Op: "migrate", Err: err}
	}
	return store, nil
}

// CreateSession allocates a new ACTIVE session.
func (s *GormStore) CreateSession(ctx context.Context) (*core.Session, error) {
	sess := core.NewSession()
	row := sessionRow{
		SessionID: sess.ID,
		Status:    string(sess.Status),
		StateJSON: "{}",
		CreatedAt: sess.Created,
		UpdatedAt: sess.Updated,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, &StorageError{Op: "create_session", Err: err}
	}
	return sess, nil
}

func (s *GormStore) sessionRow(ctx context.Context, tx *gorm.DB, sessionID string) (sessionRow, error) {
	var row sessionRow
	err := tx.WithContext(ctx).Where("session_id = ?", sessionID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return sessionRow{}, ErrSessionNotFound
		}
		return sessionRow{}, &StorageError{Op: "get_session", Err: err}
	}
	return row, nil
}

// GetSession returns the session's identity and lifecycle state.
func (s *GormStore) GetSession(ctx context.Context, sessionID string) (*core.Session, error) {
	row, err := s.sessionRow(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	return &core.Session{
		ID:      row.SessionID,
		Status:  core.SessionStatus(row.Status),
		Created: row.CreatedAt,
		Updated: row.UpdatedAt,
	}, nil
}

// AppendTurn appends to the turn log inside a transaction so the sequence
// lookup and insert are atomic per turn.
func (s *GormStore) AppendTurn(ctx context.Context, sessionID string, turn core.Turn) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.sessionRow(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if core.SessionStatus(row.Status) != core.SessionActive {
			return &core.InvalidStateError{
				SessionID: sessionID,
				Status:    core.SessionStatus(row.Status),
				Op:        "append_turn",
			}
		}

		var maxSeq int64
		if err := tx.Model(&turnRow{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&maxSeq).Error; err != nil {
			return &StorageError{Op: "sequence_lookup", Err: err}
		}

		record := turnRowFrom(sessionID, maxSeq+1, turn)
		if err := tx.Create(&record).Error; err != nil {
			return &StorageError{Op: "append_turn", Err: err}
		}

		return tx.Model(&sessionRow{}).
			Where("session_id = ?", sessionID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

// GetHistory returns turns ordered by their sequence number.
func (s *GormStore) GetHistory(ctx context.Context, sessionID string, maxTurns int) ([]core.Turn, error) {
	if _, err := s.sessionRow(ctx, s.db, sessionID); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("sequence ASC")
	var rows []turnRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, &StorageError{Op: "get_history", Err: err}
	}
	if maxTurns > 0 && len(rows) > maxTurns {
		rows = rows[len(rows)-maxTurns:]
	}

	turns := make([]core.Turn, len(rows))
	for i, r := range rows {
		turns[i] = r.toTurn()
	}
	return turns, nil
}

// SetStatus transitions the session status register.
func (s *GormStore) SetStatus(ctx context.Context, sessionID string, status core.SessionStatus) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.sessionRow(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		from := core.SessionStatus(row.Status)
		if !from.CanTransitionTo(status) {
			return &core.InvalidTransitionError{SessionID: sessionID, From: from, To: status}
		}
		return tx.Model(&sessionRow{}).
			Where("session_id = ?", sessionID).
			Updates(map[string]any{
				"status":     string(status),
				"updated_at": time.Now().UTC(),
			}).Error
	})
}

// PutState merges key/value facts into the session's working memory column.
func (s *GormStore) PutState(ctx context.Context, sessionID string, delta map[string]string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.sessionRow(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		state := map[string]string{}
		if row.StateJSON != "" {
			if err := json.Unmarshal([]byte(row.StateJSON), &state); err != nil {
				return &StorageError{Op: "decode_state", Err: err}
			}
		}
		for k, v := range delta {
			state[k] = v
		}
		encoded, err := json.Marshal(state)
		if err != nil {
			return &StorageError{Op: "encode_state", Err: err}
		}

		return tx.Model(&sessionRow{}).
			Where("session_id = ?", sessionID).
			Updates(map[string]any{
				"state_json": string(encoded),
				"updated_at": time.Now().UTC(),
			}).Error
	})
}

// GetState returns the session's working memory.
func (s *GormStore) GetState(ctx context.Context, sessionID string) (map[string]string, error) {
	row, err := s.sessionRow(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	state := map[string]string{}
	if row.StateJSON != "" {
		if err := json.Unmarshal([]byte(row.StateJSON), &state); err != nil {
			return nil, &StorageError{Op: "decode_state", Err: err}
		}
	}
	return state, nil
}

// CountSessions reports the number of stored sessions.
func (s *GormStore) CountSessions(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&sessionRow{}).Count(&n).Error; err != nil {
		return 0, &StorageError{Op: "count_sessions", Err: err}
	}
	return int(n), nil
}

// ExpireIdle retires ACTIVE sessions idle since before cutoff.
func (s *GormStore) ExpireIdle(ctx context.Context, cutoff time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("status = ? AND updated_at < ?", string(core.SessionActive), cutoff).
		Updates(map[string]any{
			"status":     string(core.SessionExpired),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, &StorageError{Op: "expire_idle", Err: res.Error}
	}
	return int(res.RowsAffected), nil
}

// Close closes the underlying database handle.
func (s *GormStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return db.Close()
}
