package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"chatd/internal/models"
)

type DB struct {
	*sql.DB
}

func NewDB(dbPath string) (*DB, error) {
	// Create the database directory if it doesn't exist
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating database directory: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	// Initialize database schema
	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("error initializing schema: %v", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS app_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			is_group BOOLEAN NOT NULL DEFAULT 0,
			created_by INTEGER,
			direct_key TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (created_by) REFERENCES users(id)
		)`,
		// direct_key is "minUserID:maxUserID" for direct conversations and
		// NULL for groups, so the unique index enforces at most one direct
		// conversation per user pair even under concurrent creation.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_direct_key
			ON conversations(direct_key) WHERE direct_key IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS conversation_members (
			conversation_id INTEGER,
			user_id INTEGER,
			role TEXT NOT NULL DEFAULT 'member',
			joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL,
			sender_id INTEGER,
			body TEXT NOT NULL,
			reply_to_id INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			FOREIGN KEY (sender_id) REFERENCES users(id)
		)`,
		`INSERT OR IGNORE INTO app_settings (key, value) VALUES ('registration_open', 'true')`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %v", err)
		}
	}

	return nil
}

func isUniqueViolation(err error) bool {
	sqliteErr, ok := err.(sqlite3.Error)
	return ok && sqliteErr.Code == sqlite3.ErrConstraint
}

// User methods
func (db *DB) CreateUser(firstName, lastName, email, passwordHash string, isAdmin bool) (*models.User, error) {
	now := time.Now().UTC()
	result, err := db.Exec(
		"INSERT INTO users (first_name, last_name, email, password_hash, is_admin, is_active, created_at) VALUES (?, ?, ?, ?, ?, 1, ?)",
		firstName, lastName, email, passwordHash, isAdmin, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("email already exists")
		}
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &models.User{
		ID:        id,
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		IsAdmin:   isAdmin,
		IsActive:  true,
		CreatedAt: now,
	}, nil
}

func (db *DB) GetUserByEmail(email string) (*models.User, error) {
	user := &models.User{}
	err := db.DB.QueryRow(`
		SELECT id, first_name, last_name, email, password_hash, is_admin, is_active, created_at
		FROM users
		WHERE email = ?
	`, email).Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.Password, &user.IsAdmin, &user.IsActive, &user.CreatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("database error: %v", err)
	}

	return user, nil
}

func (db *DB) GetUserByID(id int64) (*models.User, error) {
	var user models.User
	err := db.QueryRow(
		"SELECT id, first_name, last_name, email, password_hash, is_admin, is_active, created_at FROM users WHERE id = ?",
		id,
	).Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.Password, &user.IsAdmin, &user.IsActive, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers returns all users ordered by id. When excludeID is positive that
// user is left out (non-admins don't see themselves in the directory).
func (db *DB) ListUsers(excludeID int64) ([]*models.User, error) {
	rows, err := db.DB.Query(`
		SELECT id, first_name, last_name, email, is_admin, is_active, created_at
		FROM users
		WHERE ? <= 0 OR id != ?
		ORDER BY id
	`, excludeID, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user := &models.User{}
		err := rows.Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.IsAdmin, &user.IsActive, &user.CreatedAt)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (db *DB) UpdateUser(id int64, firstName, lastName string, isAdmin, isActive bool) (*models.User, error) {
	_, err := db.Exec(
		"UPDATE users SET first_name = ?, last_name = ?, is_admin = ?, is_active = ? WHERE id = ?",
		firstName, lastName, isAdmin, isActive, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %v", err)
	}
	return db.GetUserByID(id)
}

func (db *DB) DeleteUser(id int64) error {
	_, err := db.Exec("DELETE FROM users WHERE id = ?", id)
	return err
}

// EnsureAdmin creates a seed admin account when no admin user exists yet.
func (db *DB) EnsureAdmin(firstName, lastName, email, passwordHash string) error {
	var exists int
	err := db.QueryRow("SELECT COUNT(*) FROM users WHERE is_admin = 1").Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check for admin user: %v", err)
	}
	if exists > 0 {
		return nil
	}
	_, err = db.CreateUser(firstName, lastName, email, passwordHash, true)
	return err
}

// Settings methods
func (db *DB) SettingValue(key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM app_settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func (db *DB) SetSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO app_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (db *DB) RegistrationOpen() (bool, error) {
	value, err := db.SettingValue("registration_open")
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

// Conversation methods

func directKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// CreateDirectConversation returns the direct conversation between the two
// users, creating it if it doesn't exist. The unique index on direct_key makes
// this safe under concurrent first-contact requests: the losing writer reads
// back the winner's row.
func (db *DB) CreateDirectConversation(userID, otherID int64) (*models.Conversation, error) {
	key := directKey(userID, otherID)

	if conv, err := db.getConversationByDirectKey(key); err != nil {
		return nil, err
	} else if conv != nil {
		return conv, nil
	}

	tx, err := db.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	name := fmt.Sprintf("Direct %d-%d", userID, otherID)
	result, err := tx.Exec(`
		INSERT INTO conversations (name, is_group, created_by, direct_key)
		VALUES (?, 0, ?, ?)
	`, name, userID, key)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race; the other writer's conversation is canonical.
			tx.Rollback()
			return db.getConversationByDirectKey(key)
		}
		return nil, fmt.Errorf("failed to create conversation: %v", err)
	}

	conversationID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation ID: %v", err)
	}

	for _, uid := range []int64{userID, otherID} {
		_, err = tx.Exec(`
			INSERT INTO conversation_members (conversation_id, user_id, role)
			VALUES (?, ?, 'member')
		`, conversationID, uid)
		if err != nil {
			return nil, fmt.Errorf("failed to add member %d: %v", uid, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %v", err)
	}

	return db.getConversationByID(conversationID)
}

func (db *DB) CreateGroupConversation(name string, creatorID int64, memberIDs []int64) (*models.Conversation, error) {
	tx, err := db.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO conversations (name, is_group, created_by)
		VALUES (?, 1, ?)
	`, name, creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %v", err)
	}

	conversationID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation ID: %v", err)
	}

	ids := append([]int64{creatorID}, memberIDs...)
	for _, uid := range ids {
		role := "member"
		if uid == creatorID {
			role = "admin"
		}
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO conversation_members (conversation_id, user_id, role)
			VALUES (?, ?, ?)
		`, conversationID, uid, role)
		if err != nil {
			return nil, fmt.Errorf("failed to add member %d: %v", uid, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %v", err)
	}

	return db.getConversationByID(conversationID)
}

func (db *DB) getConversationByID(id int64) (*models.Conversation, error) {
	conversation := &models.Conversation{}
	var createdBy sql.NullInt64
	err := db.DB.QueryRow(`
		SELECT id, name, is_group, created_by, created_at
		FROM conversations
		WHERE id = ?
	`, id).Scan(&conversation.ID, &conversation.Name, &conversation.IsGroup, &createdBy, &conversation.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation: %v", err)
	}
	conversation.CreatedBy = createdBy.Int64
	return conversation, nil
}

func (db *DB) getConversationByDirectKey(key string) (*models.Conversation, error) {
	conversation := &models.Conversation{}
	var createdBy sql.NullInt64
	err := db.DB.QueryRow(`
		SELECT id, name, is_group, created_by, created_at
		FROM conversations
		WHERE direct_key = ?
	`, key).Scan(&conversation.ID, &conversation.Name, &conversation.IsGroup, &createdBy, &conversation.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch conversation: %v", err)
	}
	conversation.CreatedBy = createdBy.Int64
	return conversation, nil
}

func (db *DB) UserConversations(userID int64) ([]*models.Conversation, error) {
	rows, err := db.DB.Query(`
		SELECT c.id, c.name, c.is_group, c.created_by, c.created_at
		FROM conversations c
		JOIN conversation_members cm ON c.id = cm.conversation_id
		WHERE cm.user_id = ?
		ORDER BY c.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %v", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		conv := &models.Conversation{}
		var createdBy sql.NullInt64
		err := rows.Scan(&conv.ID, &conv.Name, &conv.IsGroup, &createdBy, &conv.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %v", err)
		}
		conv.CreatedBy = createdBy.Int64
		conversations = append(conversations, conv)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %v", err)
	}

	return conversations, nil
}

func (db *DB) IsConversationMember(conversationID, userID int64) (bool, error) {
	var one int
	err := db.QueryRow(`
		SELECT 1 FROM conversation_members
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to check membership: %v", err)
	}
	return true, nil
}

// ConversationMemberIDs returns all member IDs for a conversation
func (db *DB) ConversationMemberIDs(conversationID int64) ([]int64, error) {
	rows, err := db.DB.Query(`
		SELECT user_id
		FROM conversation_members
		WHERE conversation_id = ?
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %v", err)
	}
	defer rows.Close()

	var memberIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member ID: %v", err)
		}
		memberIDs = append(memberIDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %v", err)
	}

	return memberIDs, nil
}

// Message methods

// SaveMessage persists a message and returns the canonical stored record with
// its store-assigned id and timestamp.
func (db *DB) SaveMessage(conversationID, senderID int64, body string, replyToID *int64) (*models.Message, error) {
	now := time.Now().UTC()
	result, err := db.DB.Exec(`
		INSERT INTO messages (conversation_id, sender_id, body, reply_to_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, conversationID, senderID, body, replyToID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %v", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get message ID: %v", err)
	}

	return &models.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		ReplyToID:      replyToID,
		CreatedAt:      now,
	}, nil
}

// ConversationMessages returns the full ordered history of a conversation,
// with sender names and reply bodies joined in.
func (db *DB) ConversationMessages(conversationID int64) ([]models.HistoryMessage, error) {
	rows, err := db.Query(`
		SELECT m.id, m.conversation_id, m.body, m.created_at, m.reply_to_id,
		       u.id, u.first_name, u.last_name,
		       r.body
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		LEFT JOIN messages r ON r.id = m.reply_to_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at ASC, m.id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.HistoryMessage
	for rows.Next() {
		var msg models.HistoryMessage
		var senderID sql.NullInt64
		var firstName, lastName sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Body, &msg.CreatedAt, &msg.ReplyToID,
			&senderID, &firstName, &lastName, &msg.ReplyBody); err != nil {
			return nil, err
		}
		msg.SenderID = senderID.Int64
		msg.FirstName = firstName.String
		msg.LastName = lastName.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ClearChatData removes all messages, memberships, and conversations while
// leaving user accounts and settings intact.
func (db *DB) ClearChatData() error {
	tx, err := db.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	for _, query := range []string{
		"DELETE FROM messages",
		"DELETE FROM conversation_members",
		"DELETE FROM conversations",
	} {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to clear chat data: %v", err)
		}
	}

	return tx.Commit()
}
