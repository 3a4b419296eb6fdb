package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/tyin88/agentgw/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			model TEXT NOT NULL,
			working_dir TEXT,
			num_turns INTEGER NOT NULL DEFAULT 0,
			total_cost_usd REAL NOT NULL DEFAULT 0,
			parent_session_id TEXT,
			metadata TEXT,
			owner_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (parent_session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_hash, created_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_message_uuid TEXT NOT NULL UNIQUE,
			files_modified TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS assistants (
			assistant_id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			name TEXT,
			description TEXT,
			instructions TEXT,
			tools TEXT,
			metadata TEXT,
			temperature REAL,
			top_p REAL,
			owner_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assistants_owner ON assistants(owner_hash, created_at)`,
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			assistant_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL,
			model TEXT NOT NULL,
			instructions TEXT,
			tools TEXT,
			metadata TEXT,
			required_action TEXT,
			last_error TEXT,
			usage TEXT,
			created_at DATETIME NOT NULL,
			expires_at INTEGER,
			started_at INTEGER,
			cancelled_at INTEGER,
			failed_at INTEGER,
			completed_at INTEGER,
			expired_at INTEGER,
			FOREIGN KEY (thread_id) REFERENCES threads(thread_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_thread ON runs(thread_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS run_steps (
			step_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			assistant_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			step_details TEXT NOT NULL,
			last_error TEXT,
			usage TEXT,
			created_at DATETIME NOT NULL,
			cancelled_at INTEGER,
			failed_at INTEGER,
			completed_at INTEGER,
			expired_at INTEGER,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_steps_run ON run_steps(run_id, created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mapErr classifies a driver error into the gateway taxonomy. Constraint
// violations become ErrConflict, anything else is a retryable storage outage.
func mapErr(err error, op string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, err)
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, status, model, working_dir, num_turns, total_cost_usd,
			parent_session_id, metadata, owner_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.Status, session.Model, nullString(session.WorkingDir),
		session.NumTurns, session.TotalCostUSD, nullString(session.ParentSessionID),
		nullStringBytes(session.Metadata), session.OwnerHash, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return mapErr(err, "create session")
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, status, model, working_dir, num_turns, total_cost_usd,
			parent_session_id, metadata, owner_hash, created_at, updated_at
		 FROM sessions WHERE session_id = ?`, sessionID)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err, "get session")
	}
	return session, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sessionID string, update domain.SessionUpdate) (*domain.Session, error) {
	sets := []string{"updated_at = ?"}
	now := time.Now().UTC()
	args := []interface{}{now}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if update.NumTurns != nil {
		sets = append(sets, "num_turns = ?")
		args = append(args, *update.NumTurns)
	}
	if update.TotalCostUSD != nil {
		sets = append(sets, "total_cost_usd = ?")
		args = append(args, *update.TotalCostUSD)
	}
	if update.Metadata != nil {
		sets = append(sets, "metadata = ?")
		args = append(args, string(update.Metadata))
	}

	query := "UPDATE sessions SET " + strings.Join(sets, ", ") + " WHERE session_id = ?"
	args = append(args, sessionID)
	if update.ExpectedUpdatedAt != nil {
		query += " AND updated_at = ?"
		args = append(args, *update.ExpectedUpdatedAt)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "update session")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, mapErr(err, "update session")
	}
	if affected == 0 {
		// Either the row is gone or the optimistic check lost the race.
		existing, getErr := s.GetSession(ctx, sessionID)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("update session %s: stale version: %w", sessionID, domain.ErrConflict)
	}
	return s.GetSession(ctx, sessionID)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, ownerHash string, page, pageSize int, filter domain.SessionFilter) ([]domain.Session, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	where := "owner_hash = ?"
	args := []interface{}{ownerHash}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err, "count sessions")
	}

	query := `SELECT session_id, status, model, working_dir, num_turns, total_cost_usd,
			parent_session_id, metadata, owner_hash, created_at, updated_at
		 FROM sessions WHERE ` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, mapErr(err, "list sessions")
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, mapErr(err, "scan session")
		}
		sessions = append(sessions, *session)
	}
	return sessions, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var workingDir, parentID, metadata sql.NullString
	err := row.Scan(&session.SessionID, &session.Status, &session.Model, &workingDir,
		&session.NumTurns, &session.TotalCostUSD, &parentID, &metadata,
		&session.OwnerHash, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	session.WorkingDir = workingDir.String
	session.ParentSessionID = parentID.String
	if metadata.Valid {
		session.Metadata = json.RawMessage(metadata.String)
	}
	return &session, nil
}

// --- Messages ---

func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, role, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		message.MessageID, message.SessionID, message.Role, message.Content,
		nullStringBytes(message.Metadata), message.CreatedAt)
	if err != nil {
		return mapErr(err, "create message")
	}
	return nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int, before string) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT message_id, session_id, role, content, metadata, created_at
		 FROM messages WHERE session_id = ?`
	args := []interface{}{sessionID}
	if before != "" {
		query += ` AND created_at < (SELECT created_at FROM messages WHERE message_id = ?)`
		args = append(args, before)
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "get messages")
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var metadata sql.NullString
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &msg.Role, &msg.Content, &metadata, &msg.CreatedAt); err != nil {
			return nil, mapErr(err, "scan message")
		}
		if metadata.Valid {
			msg.Metadata = json.RawMessage(metadata.String)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// --- Checkpoints ---

func (s *SQLiteStore) CreateCheckpoint(ctx context.Context, checkpoint *domain.Checkpoint) error {
	files, err := json.Marshal(checkpoint.FilesModified)
	if err != nil {
		return fmt.Errorf("marshal files_modified: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (checkpoint_id, session_id, user_message_uuid, files_modified, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		checkpoint.CheckpointID, checkpoint.SessionID, checkpoint.UserMessageUUID,
		string(files), checkpoint.CreatedAt)
	if err != nil {
		return mapErr(err, "create checkpoint")
	}
	return nil
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, checkpointID string) (*domain.Checkpoint, error) {
	return s.getCheckpointWhere(ctx, "checkpoint_id = ?", checkpointID)
}

func (s *SQLiteStore) GetCheckpointByUserMessageUUID(ctx context.Context, userMessageUUID string) (*domain.Checkpoint, error) {
	return s.getCheckpointWhere(ctx, "user_message_uuid = ?", userMessageUUID)
}

func (s *SQLiteStore) getCheckpointWhere(ctx context.Context, where string, arg interface{}) (*domain.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT checkpoint_id, session_id, user_message_uuid, files_modified, created_at
		 FROM checkpoints WHERE `+where, arg)

	checkpoint, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err, "get checkpoint")
	}
	return checkpoint, nil
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, sessionID string) ([]domain.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT checkpoint_id, session_id, user_message_uuid, files_modified, created_at
		 FROM checkpoints WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, mapErr(err, "list checkpoints")
	}
	defer rows.Close()

	var checkpoints []domain.Checkpoint
	for rows.Next() {
		checkpoint, err := scanCheckpoint(rows)
		if err != nil {
			return nil, mapErr(err, "scan checkpoint")
		}
		checkpoints = append(checkpoints, *checkpoint)
	}
	return checkpoints, rows.Err()
}

func scanCheckpoint(row rowScanner) (*domain.Checkpoint, error) {
	var checkpoint domain.Checkpoint
	var files string
	err := row.Scan(&checkpoint.CheckpointID, &checkpoint.SessionID,
		&checkpoint.UserMessageUUID, &files, &checkpoint.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(files), &checkpoint.FilesModified); err != nil {
		return nil, fmt.Errorf("unmarshal files_modified: %w", err)
	}
	return &checkpoint, nil
}

// --- Assistants ---

func (s *SQLiteStore) CreateAssistant(ctx context.Context, assistant *domain.Assistant) error {
	tools, metadata, err := marshalAssistantFields(assistant)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assistants (assistant_id, model, name, description, instructions,
			tools, metadata, temperature, top_p, owner_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		assistant.ID, assistant.Model, nullString(assistant.Name), nullString(assistant.Description),
		nullString(assistant.Instructions), tools, metadata,
		nullFloat(assistant.Temperature), nullFloat(assistant.TopP),
		assistant.OwnerHash, time.Unix(assistant.CreatedAt, 0).UTC())
	if err != nil {
		return mapErr(err, "create assistant")
	}
	return nil
}

func (s *SQLiteStore) UpdateAssistant(ctx context.Context, assistant *domain.Assistant) error {
	tools, metadata, err := marshalAssistantFields(assistant)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE assistants SET model = ?, name = ?, description = ?, instructions = ?,
			tools = ?, metadata = ?, temperature = ?, top_p = ?
		 WHERE assistant_id = ?`,
		assistant.Model, nullString(assistant.Name), nullString(assistant.Description),
		nullString(assistant.Instructions), tools, metadata,
		nullFloat(assistant.Temperature), nullFloat(assistant.TopP), assistant.ID)
	if err != nil {
		return mapErr(err, "update assistant")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapErr(err, "update assistant")
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func marshalAssistantFields(assistant *domain.Assistant) (string, string, error) {
	tools, err := json.Marshal(assistant.Tools)
	if err != nil {
		return "", "", fmt.Errorf("marshal tools: %w", err)
	}
	metadata, err := json.Marshal(assistant.Metadata)
	if err != nil {
		return "", "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(tools), string(metadata), nil
}

func (s *SQLiteStore) GetAssistant(ctx context.Context, assistantID string) (*domain.Assistant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT assistant_id, model, name, description, instructions, tools, metadata,
			temperature, top_p, owner_hash, created_at
		 FROM assistants WHERE assistant_id = ?`, assistantID)

	assistant, err := scanAssistant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err, "get assistant")
	}
	return assistant, nil
}

func (s *SQLiteStore) ListAssistants(ctx context.Context, ownerHash string, limit int) ([]domain.Assistant, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT assistant_id, model, name, description, instructions, tools, metadata,
			temperature, top_p, owner_hash, created_at
		 FROM assistants WHERE owner_hash = ? ORDER BY created_at DESC LIMIT ?`, ownerHash, limit)
	if err != nil {
		return nil, mapErr(err, "list assistants")
	}
	defer rows.Close()

	var assistants []domain.Assistant
	for rows.Next() {
		assistant, err := scanAssistant(rows)
		if err != nil {
			return nil, mapErr(err, "scan assistant")
		}
		assistants = append(assistants, *assistant)
	}
	return assistants, rows.Err()
}

func (s *SQLiteStore) DeleteAssistant(ctx context.Context, assistantID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assistants WHERE assistant_id = ?`, assistantID)
	if err != nil {
		return mapErr(err, "delete assistant")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapErr(err, "delete assistant")
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanAssistant(row rowScanner) (*domain.Assistant, error) {
	var assistant domain.Assistant
	var name, description, instructions, tools, metadata sql.NullString
	var temperature, topP sql.NullFloat64
	var createdAt time.Time
	err := row.Scan(&assistant.ID, &assistant.Model, &name, &description, &instructions,
		&tools, &metadata, &temperature, &topP, &assistant.OwnerHash, &createdAt)
	if err != nil {
		return nil, err
	}
	assistant.Object = "assistant"
	assistant.Name = name.String
	assistant.Description = description.String
	assistant.Instructions = instructions.String
	assistant.CreatedAt = createdAt.Unix()
	if tools.Valid {
		if err := json.Unmarshal([]byte(tools.String), &assistant.Tools); err != nil {
			return nil, fmt.Errorf("unmarshal tools: %w", err)
		}
	}
	if assistant.Tools == nil {
		assistant.Tools = []domain.AssistantTool{}
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &assistant.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if assistant.Metadata == nil {
		assistant.Metadata = map[string]string{}
	}
	if temperature.Valid {
		v := temperature.Float64
		assistant.Temperature = &v
	}
	if topP.Valid {
		v := topP.Float64
		assistant.TopP = &v
	}
	return &assistant, nil
}

// --- Threads ---

func (s *SQLiteStore) CreateThread(ctx context.Context, thread *domain.Thread) error {
	metadata, err := json.Marshal(thread.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO threads (thread_id, session_id, metadata, created_at)
		 VALUES (?, ?, ?, ?)`,
		thread.ID, thread.SessionID, string(metadata), time.Unix(thread.CreatedAt, 0).UTC())
	if err != nil {
		return mapErr(err, "create thread")
	}
	return nil
}

func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT thread_id, session_id, metadata, created_at FROM threads WHERE thread_id = ?`, threadID)

	var thread domain.Thread
	var metadata sql.NullString
	var createdAt time.Time
	err := row.Scan(&thread.ID, &thread.SessionID, &metadata, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err, "get thread")
	}
	thread.Object = "thread"
	thread.CreatedAt = createdAt.Unix()
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &thread.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if thread.Metadata == nil {
		thread.Metadata = map[string]string{}
	}
	return &thread, nil
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	fields, err := marshalRunFields(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, thread_id, assistant_id, session_id, status, model,
			instructions, tools, metadata, required_action, last_error, usage, created_at,
			expires_at, started_at, cancelled_at, failed_at, completed_at, expired_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ThreadID, run.AssistantID, run.SessionID, run.Status, run.Model,
		nullString(run.Instructions), fields.tools, fields.metadata, fields.requiredAction,
		fields.lastError, fields.usage, time.Unix(run.CreatedAt, 0).UTC(),
		nullInt(run.ExpiresAt), nullIntPtr(run.StartedAt), nullIntPtr(run.CancelledAt),
		nullIntPtr(run.FailedAt), nullIntPtr(run.CompletedAt), nullIntPtr(run.ExpiredAt))
	if err != nil {
		return mapErr(err, "create run")
	}
	return nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	fields, err := marshalRunFields(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, required_action = ?, last_error = ?, usage = ?,
			started_at = ?, cancelled_at = ?, failed_at = ?, completed_at = ?, expired_at = ?
		 WHERE run_id = ?`,
		run.Status, fields.requiredAction, fields.lastError, fields.usage,
		nullIntPtr(run.StartedAt), nullIntPtr(run.CancelledAt), nullIntPtr(run.FailedAt),
		nullIntPtr(run.CompletedAt), nullIntPtr(run.ExpiredAt), run.ID)
	if err != nil {
		return mapErr(err, "update run")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapErr(err, "update run")
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type runJSONFields struct {
	tools          string
	metadata       string
	requiredAction sql.NullString
	lastError      sql.NullString
	usage          sql.NullString
}

func marshalRunFields(run *domain.Run) (runJSONFields, error) {
	var fields runJSONFields
	tools, err := json.Marshal(run.Tools)
	if err != nil {
		return fields, fmt.Errorf("marshal tools: %w", err)
	}
	fields.tools = string(tools)
	metadata, err := json.Marshal(run.Metadata)
	if err != nil {
		return fields, fmt.Errorf("marshal metadata: %w", err)
	}
	fields.metadata = string(metadata)
	if run.RequiredAction != nil {
		b, err := json.Marshal(run.RequiredAction)
		if err != nil {
			return fields, fmt.Errorf("marshal required_action: %w", err)
		}
		fields.requiredAction = sql.NullString{String: string(b), Valid: true}
	}
	if run.LastError != nil {
		b, err := json.Marshal(run.LastError)
		if err != nil {
			return fields, fmt.Errorf("marshal last_error: %w", err)
		}
		fields.lastError = sql.NullString{String: string(b), Valid: true}
	}
	if run.Usage != nil {
		b, err := json.Marshal(run.Usage)
		if err != nil {
			return fields, fmt.Errorf("marshal usage: %w", err)
		}
		fields.usage = sql.NullString{String: string(b), Valid: true}
	}
	return fields, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, selectRun+` WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err, "get run")
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, threadID string, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectRun+` WHERE thread_id = ? ORDER BY created_at DESC LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, mapErr(err, "list runs")
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, mapErr(err, "scan run")
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

const selectRun = `SELECT run_id, thread_id, assistant_id, session_id, status, model,
	instructions, tools, metadata, required_action, last_error, usage, created_at,
	expires_at, started_at, cancelled_at, failed_at, completed_at, expired_at FROM runs`

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var instructions, tools, metadata, requiredAction, lastError, usage sql.NullString
	var createdAt time.Time
	var expiresAt, startedAt, cancelledAt, failedAt, completedAt, expiredAt sql.NullInt64
	err := row.Scan(&run.ID, &run.ThreadID, &run.AssistantID, &run.SessionID, &run.Status,
		&run.Model, &instructions, &tools, &metadata, &requiredAction, &lastError, &usage,
		&createdAt, &expiresAt, &startedAt, &cancelledAt, &failedAt, &completedAt, &expiredAt)
	if err != nil {
		return nil, err
	}
	run.Object = "thread.run"
	run.CreatedAt = createdAt.Unix()
	run.Instructions = instructions.String
	if tools.Valid {
		if err := json.Unmarshal([]byte(tools.String), &run.Tools); err != nil {
			return nil, fmt.Errorf("unmarshal tools: %w", err)
		}
	}
	if run.Tools == nil {
		run.Tools = []domain.AssistantTool{}
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &run.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if run.Metadata == nil {
		run.Metadata = map[string]string{}
	}
	if requiredAction.Valid {
		run.RequiredAction = &domain.RequiredAction{}
		if err := json.Unmarshal([]byte(requiredAction.String), run.RequiredAction); err != nil {
			return nil, fmt.Errorf("unmarshal required_action: %w", err)
		}
	}
	if lastError.Valid {
		run.LastError = &domain.RunError{}
		if err := json.Unmarshal([]byte(lastError.String), run.LastError); err != nil {
			return nil, fmt.Errorf("unmarshal last_error: %w", err)
		}
	}
	if usage.Valid {
		run.Usage = &domain.RunUsage{}
		if err := json.Unmarshal([]byte(usage.String), run.Usage); err != nil {
			return nil, fmt.Errorf("unmarshal usage: %w", err)
		}
	}
	run.ExpiresAt = expiresAt.Int64
	run.StartedAt = int64Ptr(startedAt)
	run.CancelledAt = int64Ptr(cancelledAt)
	run.FailedAt = int64Ptr(failedAt)
	run.CompletedAt = int64Ptr(completedAt)
	run.ExpiredAt = int64Ptr(expiredAt)
	return &run, nil
}

// --- Run steps ---

func (s *SQLiteStore) CreateRunStep(ctx context.Context, step *domain.RunStep) error {
	details, lastError, usage, err := marshalStepFields(step)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_steps (step_id, run_id, assistant_id, thread_id, type, status,
			step_details, last_error, usage, created_at, cancelled_at, failed_at, completed_at, expired_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.RunID, step.AssistantID, step.ThreadID, step.Type, step.Status,
		details, lastError, usage, time.Unix(step.CreatedAt, 0).UTC(),
		nullIntPtr(step.CancelledAt), nullIntPtr(step.FailedAt),
		nullIntPtr(step.CompletedAt), nullIntPtr(step.ExpiredAt))
	if err != nil {
		return mapErr(err, "create run step")
	}
	return nil
}

func (s *SQLiteStore) UpdateRunStep(ctx context.Context, step *domain.RunStep) error {
	details, lastError, usage, err := marshalStepFields(step)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_steps SET status = ?, step_details = ?, last_error = ?, usage = ?,
			cancelled_at = ?, failed_at = ?, completed_at = ?, expired_at = ?
		 WHERE step_id = ?`,
		step.Status, details, lastError, usage,
		nullIntPtr(step.CancelledAt), nullIntPtr(step.FailedAt),
		nullIntPtr(step.CompletedAt), nullIntPtr(step.ExpiredAt), step.ID)
	if err != nil {
		return mapErr(err, "update run step")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapErr(err, "update run step")
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func marshalStepFields(step *domain.RunStep) (string, sql.NullString, sql.NullString, error) {
	details, err := json.Marshal(step.StepDetails)
	if err != nil {
		return "", sql.NullString{}, sql.NullString{}, fmt.Errorf("marshal step_details: %w", err)
	}
	var lastError, usage sql.NullString
	if step.LastError != nil {
		b, err := json.Marshal(step.LastError)
		if err != nil {
			return "", sql.NullString{}, sql.NullString{}, fmt.Errorf("marshal last_error: %w", err)
		}
		lastError = sql.NullString{String: string(b), Valid: true}
	}
	if step.Usage != nil {
		b, err := json.Marshal(step.Usage)
		if err != nil {
			return "", sql.NullString{}, sql.NullString{}, fmt.Errorf("marshal usage: %w", err)
		}
		usage = sql.NullString{String: string(b), Valid: true}
	}
	return string(details), lastError, usage, nil
}

func (s *SQLiteStore) ListRunSteps(ctx context.Context, runID string) ([]domain.RunStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, run_id, assistant_id, thread_id, type, status, step_details,
			last_error, usage, created_at, cancelled_at, failed_at, completed_at, expired_at
		 FROM run_steps WHERE run_id = ? ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, mapErr(err, "list run steps")
	}
	defer rows.Close()

	var steps []domain.RunStep
	for rows.Next() {
		var step domain.RunStep
		var details string
		var lastError, usage sql.NullString
		var createdAt time.Time
		var cancelledAt, failedAt, completedAt, expiredAt sql.NullInt64
		err := rows.Scan(&step.ID, &step.RunID, &step.AssistantID, &step.ThreadID,
			&step.Type, &step.Status, &details, &lastError, &usage, &createdAt,
			&cancelledAt, &failedAt, &completedAt, &expiredAt)
		if err != nil {
			return nil, mapErr(err, "scan run step")
		}
		step.Object = "thread.run.step"
		step.CreatedAt = createdAt.Unix()
		if err := json.Unmarshal([]byte(details), &step.StepDetails); err != nil {
			return nil, fmt.Errorf("unmarshal step_details: %w", err)
		}
		if lastError.Valid {
			step.LastError = &domain.RunError{}
			if err := json.Unmarshal([]byte(lastError.String), step.LastError); err != nil {
				return nil, fmt.Errorf("unmarshal last_error: %w", err)
			}
		}
		if usage.Valid {
			step.Usage = &domain.RunUsage{}
			if err := json.Unmarshal([]byte(usage.String), step.Usage); err != nil {
				return nil, fmt.Errorf("unmarshal usage: %w", err)
			}
		}
		step.CancelledAt = int64Ptr(cancelledAt)
		step.FailedAt = int64Ptr(failedAt)
		step.CompletedAt = int64Ptr(completedAt)
		step.ExpiredAt = int64Ptr(expiredAt)
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// --- helpers ---

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringBytes(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullIntPtr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}
