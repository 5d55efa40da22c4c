package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chatsg/chatsg/pkg/toolctx"
)

const (
	createSessionsSQL = `CREATE TABLE IF NOT EXISTS chatsg_sessions (
		id TEXT PRIMARY KEY,
		active_agent TEXT,
		previous_agent TEXT,
		preferences TEXT,
		agent_history TEXT,
		unread_count INTEGER NOT NULL DEFAULT 0,
		last_read_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		last_message_at TIMESTAMP NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		title TEXT
	)`

	createMessagesSQL = `CREATE TABLE IF NOT EXISTS chatsg_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		agent TEXT,
		metadata TEXT
	)`

	createMessagesSQLPostgres = `CREATE TABLE IF NOT EXISTS chatsg_messages (
		seq BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		agent TEXT,
		metadata TEXT
	)`

	createMessagesSQLMySQL = `CREATE TABLE IF NOT EXISTS chatsg_messages (
		seq BIGINT PRIMARY KEY AUTO_INCREMENT,
		session_id VARCHAR(255) NOT NULL,
		type VARCHAR(16) NOT NULL,
		content TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		agent VARCHAR(255),
		metadata TEXT
	)`

	createToolLogSQL = `CREATE TABLE IF NOT EXISTS chatsg_tool_log (
		id TEXT PRIMARY KEY,
		tool_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		record TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL
	)`

	idxMessagesSession = `CREATE INDEX IF NOT EXISTS idx_chatsg_messages_session ON chatsg_messages(session_id, seq)`
	idxToolLogSession  = `CREATE INDEX IF NOT EXISTS idx_chatsg_tool_log_session ON chatsg_tool_log(session_id, started_at)`
)

// Store is the SQL-backed implementation of the Session Store (C3). It
// serializes appends and unread mutations per session via an in-process
// advisory lock keyed by session id (spec §5) — this guards the
// read-modify-write sequence the SQL driver itself does not serialize
// across pooled connections.
type Store struct {
	db      *sql.DB
	dialect string // sqlite, postgres, mysql

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Open validates the dialect, opens the DB handle, and ensures schema.
func Open(driver, dsn string) (*Store, error) {
	dialect := driver
	if dialect == "sqlite3" {
		dialect = "sqlite"
	}
	sqlDriver := dialect
	switch dialect {
	case "sqlite":
		sqlDriver = "sqlite3"
	case "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported session driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}

	s := &Store{db: db, dialect: dialect, locks: make(map[string]*sync.Mutex)}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	msgSQL := createMessagesSQL
	switch s.dialect {
	case "postgres":
		msgSQL = createMessagesSQLPostgres
	case "mysql":
		msgSQL = createMessagesSQLMySQL
	}
	for _, stmt := range []string{createSessionsSQL, msgSQL, createToolLogSQL, idxMessagesSession, idxToolLogSession} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites `?` placeholders to `$1, $2, ...` for postgres, whose
// driver does not accept the `?` form the rest of the store is written
// against.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b []byte
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b = append(b, '$')
			b = append(b, []byte(fmt.Sprintf("%d", n))...)
			continue
		}
		b = append(b, query[i])
	}
	return string(b)
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *Store) lockFor(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// CreateSession creates a new session row and returns its id.
func (s *Store) CreateSession(ctx context.Context, title string, metadata map[string]interface{}) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	prefs, _ := json.Marshal(UserPreferences{})
	hist, _ := json.Marshal([]AgentHistoryEntry{})

	_, err := s.exec(ctx,
		`INSERT INTO chatsg_sessions (id, preferences, agent_history, unread_count, created_at, last_message_at, message_count, title)
		 VALUES (?, ?, ?, 0, ?, ?, 0, ?)`,
		id, string(prefs), string(hist), now, now, title)
	if err != nil {
		return "", &WriteError{Operation: "createSession", SessionID: id, Err: err}
	}
	return id, nil
}

// AppendMessage atomically appends msg, returning the assigned sequence.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg Message) (int64, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return 0, &WriteError{Operation: "appendMessage", SessionID: sessionID, Err: err}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	res, err := s.exec(ctx,
		`INSERT INTO chatsg_messages (session_id, type, content, timestamp, agent, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, string(msg.Type), msg.Content, msg.Timestamp, msg.Agent, string(meta))
	if err != nil {
		return 0, &WriteError{Operation: "appendMessage", SessionID: sessionID, Err: err}
	}

	seq, err := res.LastInsertId()
	if err != nil {
		// postgres driver doesn't support LastInsertId; fall back to a count-based seq.
		seq, _ = s.countMessages(ctx, sessionID)
	}

	_, err = s.exec(ctx,
		`UPDATE chatsg_sessions SET last_message_at = ?, message_count = message_count + 1 WHERE id = ?`,
		msg.Timestamp, sessionID)
	if err != nil {
		return 0, &WriteError{Operation: "appendMessage", SessionID: sessionID, Err: err}
	}
	return seq, nil
}

func (s *Store) countMessages(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM chatsg_messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// ReadMessages returns an ordered page of messages for sessionID.
func (s *Store) ReadMessages(ctx context.Context, sessionID string, offset, limit int) (Page, error) {
	total, err := s.countMessages(ctx, sessionID)
	if err != nil {
		return Page{}, fmt.Errorf("count messages: %w", err)
	}

	rows, err := s.query(ctx,
		`SELECT seq, session_id, type, content, timestamp, agent, metadata FROM chatsg_messages WHERE session_id = ? ORDER BY seq ASC LIMIT ? OFFSET ?`,
		sessionID, limit, offset)
	if err != nil {
		return Page{}, fmt.Errorf("read messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var metaStr string
		var agent sql.NullString
		if err := rows.Scan(&m.Seq, &m.SessionID, &m.Type, &m.Content, &m.Timestamp, &agent, &metaStr); err != nil {
			return Page{}, fmt.Errorf("scan message: %w", err)
		}
		m.Agent = agent.String
		if metaStr != "" {
			_ = json.Unmarshal([]byte(metaStr), &m.Metadata)
		}
		msgs = append(msgs, m)
	}

	return Page{
		Messages: msgs,
		HasMore:  int64(offset+len(msgs)) < total,
		Total:    int(total),
	}, nil
}

// GetSession returns the metadata index row, rebuilding messageCount
// from the log if it disagrees (spec §4.3 index-inconsistency policy).
func (s *Store) GetSession(ctx context.Context, sessionID string) (Meta, error) {
	var m Meta
	var prefsStr, histStr string
	var activeAgent, prevAgent, title sql.NullString
	var lastReadAt sql.NullTime

	err := s.queryRow(ctx,
		`SELECT id, active_agent, previous_agent, preferences, agent_history, unread_count, last_read_at, created_at, last_message_at, message_count, title FROM chatsg_sessions WHERE id = ?`,
		sessionID).Scan(&m.ID, &activeAgent, &prevAgent, &prefsStr, &histStr, &m.UnreadCount, &lastReadAt, &m.CreatedAt, &m.LastMessageAt, &m.MessageCount, &title)
	if err == sql.ErrNoRows {
		return Meta{}, &NotFoundError{SessionID: sessionID}
	}
	if err != nil {
		return Meta{}, fmt.Errorf("get session: %w", err)
	}

	m.ActiveAgent = activeAgent.String
	m.PreviousAgent = prevAgent.String
	m.Title = title.String
	if lastReadAt.Valid {
		t := lastReadAt.Time
		m.LastReadAt = &t
	}
	_ = json.Unmarshal([]byte(prefsStr), &m.Preferences)
	_ = json.Unmarshal([]byte(histStr), &m.AgentHistory)

	if actual, err := s.countMessages(ctx, sessionID); err == nil && int(actual) != m.MessageCount {
		m.MessageCount = int(actual)
		_, _ = s.exec(ctx, `UPDATE chatsg_sessions SET message_count = ? WHERE id = ?`, m.MessageCount, sessionID)
	}

	return m, nil
}

// ListSessions returns every session ordered by lastMessageAt desc.
func (s *Store) ListSessions(ctx context.Context) ([]Meta, error) {
	rows, err := s.query(ctx, `SELECT id FROM chatsg_sessions`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	metas := make([]Meta, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetSession(ctx, id)
		if err != nil {
			continue
		}
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].LastMessageAt.After(metas[j].LastMessageAt) })
	return metas, nil
}

// DeleteSession removes the log, index entry, and tool log for sessionID.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	for _, stmt := range []string{
		`DELETE FROM chatsg_messages WHERE session_id = ?`,
		`DELETE FROM chatsg_tool_log WHERE session_id = ?`,
		`DELETE FROM chatsg_sessions WHERE id = ?`,
	} {
		if _, err := s.exec(ctx, stmt, sessionID); err != nil {
			return &WriteError{Operation: "deleteSession", SessionID: sessionID, Err: err}
		}
	}
	s.locksMu.Lock()
	delete(s.locks, sessionID)
	s.locksMu.Unlock()
	return nil
}

// UpdateUserPreferences merges patch fields into the stored preferences.
// Zero-valued fields in patch are treated as "unset" except for the two
// bool flags, which always overwrite (callers pass the full desired value).
func (s *Store) UpdateUserPreferences(ctx context.Context, sessionID string, patch UserPreferences) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	m, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if patch.PreferredAgent != "" {
		m.Preferences.PreferredAgent = patch.PreferredAgent
	}
	if patch.LastAgentUsed != "" {
		m.Preferences.LastAgentUsed = patch.LastAgentUsed
	}
	m.Preferences.CrossSessionMemory = patch.CrossSessionMemory
	m.Preferences.AgentLock = patch.AgentLock
	if patch.AgentLockTimestamp != nil {
		m.Preferences.AgentLockTimestamp = patch.AgentLockTimestamp
	}

	buf, _ := json.Marshal(m.Preferences)
	_, err = s.exec(ctx, `UPDATE chatsg_sessions SET preferences = ? WHERE id = ?`, string(buf), sessionID)
	if err != nil {
		return &WriteError{Operation: "updateUserPreferences", SessionID: sessionID, Err: err}
	}
	return nil
}

// AppendAgentHistory appends entry, evicting the oldest if the ring
// buffer is at AgentHistoryCap (spec §3).
func (s *Store) AppendAgentHistory(ctx context.Context, sessionID string, entry AgentHistoryEntry) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	m, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	hist := append(m.AgentHistory, entry)
	if len(hist) > AgentHistoryCap {
		hist = hist[len(hist)-AgentHistoryCap:]
	}
	buf, _ := json.Marshal(hist)
	_, err = s.exec(ctx, `UPDATE chatsg_sessions SET agent_history = ? WHERE id = ?`, string(buf), sessionID)
	if err != nil {
		return &WriteError{Operation: "appendAgentHistory", SessionID: sessionID, Err: err}
	}
	return nil
}

// SetActiveAgent updates activeAgent/previousAgent, used by the handoff
// coordinator (spec §4.8) to atomically rewrite the routing state.
func (s *Store) SetActiveAgent(ctx context.Context, sessionID, active, previous string) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.exec(ctx, `UPDATE chatsg_sessions SET active_agent = ?, previous_agent = ? WHERE id = ?`, active, previous, sessionID)
	if err != nil {
		return &WriteError{Operation: "setActiveAgent", SessionID: sessionID, Err: err}
	}
	return nil
}

// SetTitle replaces the session title. The orchestrator's derived title is
// set at creation through CreateSession, not through this method.
func (s *Store) SetTitle(ctx context.Context, sessionID, title string) error {
	_, err := s.exec(ctx, `UPDATE chatsg_sessions SET title = ? WHERE id = ?`, title, sessionID)
	if err != nil {
		return &WriteError{Operation: "setTitle", SessionID: sessionID, Err: err}
	}
	return nil
}

// MarkRead resets unreadCount to 0 and sets lastReadAt to now. Applying
// it twice in a row yields the same state (spec §8 idempotence).
func (s *Store) MarkRead(ctx context.Context, sessionID string) (Meta, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	_, err := s.exec(ctx, `UPDATE chatsg_sessions SET unread_count = 0, last_read_at = ? WHERE id = ?`, now, sessionID)
	if err != nil {
		return Meta{}, &WriteError{Operation: "markRead", SessionID: sessionID, Err: err}
	}
	m, err := s.GetSession(ctx, sessionID)
	return m, err
}

// IncrementUnreadIfBackground increments unreadCount iff callerActiveSessionID
// differs from sessionID; otherwise it is a no-op. Callers invoke this
// immediately after appending the assistant message (spec §4.3).
func (s *Store) IncrementUnreadIfBackground(ctx context.Context, sessionID, callerActiveSessionID string) error {
	if callerActiveSessionID == sessionID {
		return nil
	}
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.exec(ctx, `UPDATE chatsg_sessions SET unread_count = unread_count + 1 WHERE id = ?`, sessionID)
	if err != nil {
		return &WriteError{Operation: "incrementUnread", SessionID: sessionID, Err: err}
	}
	return nil
}

// AppendToolRecord implements toolctx.Log, persisting a Tool Execution
// Record to the tool log distinct from the message log (spec §3).
func (s *Store) AppendToolRecord(ctx context.Context, sessionID string, rec toolctx.Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return &WriteError{Operation: "appendToolRecord", SessionID: sessionID, Err: err}
	}
	_, err = s.exec(ctx,
		`INSERT INTO chatsg_tool_log (id, tool_id, session_id, record, started_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.ToolID, sessionID, string(buf), rec.StartedAt)
	if err != nil {
		return &WriteError{Operation: "appendToolRecord", SessionID: sessionID, Err: err}
	}
	return nil
}

// ReadToolLog returns every Tool Execution Record for a session in
// start order. Supplemented for symmetry with ReadMessages (SPEC_FULL 2C).
func (s *Store) ReadToolLog(ctx context.Context, sessionID string) ([]toolctx.Record, error) {
	rows, err := s.query(ctx, `SELECT record FROM chatsg_tool_log WHERE session_id = ? ORDER BY started_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read tool log: %w", err)
	}
	defer rows.Close()

	var out []toolctx.Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec toolctx.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close releases the underlying DB handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks reachability; used by the doctor CLI subcommand.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
