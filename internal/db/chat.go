package db

import (
	"database/sql"
	"time"
)

// Message delivery states. Transitions only move forward.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusSeen      = "seen"
)

type Chat struct {
	ID        string    `json:"id"`
	UserA     string    `json:"user_a"`
	UserB     string    `json:"user_b"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Other returns the participant that is not userID.
func (c *Chat) Other(userID string) string {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

func (c *Chat) HasParticipant(userID string) bool {
	return c.UserA == userID || c.UserB == userID
}

type ChatMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content,omitempty"`
	Media     string    `json:"media,omitempty"`
	Status    string    `json:"status"`
	ReplyToID *string   `json:"reply_to_id,omitempty"`
	IsDeleted bool      `json:"is_deleted"`
	IsEdited  bool      `json:"is_edited"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetOrCreateChat returns the direct chat between two users, creating it on
// first contact. Participants are stored in sorted order so the pair is a
// stable unique key.
func (d *DB) GetOrCreateChat(userA, userB string) (*Chat, error) {
	if userB < userA {
		userA, userB = userB, userA
	}
	_, err := d.Exec(`INSERT OR IGNORE INTO chats (id, user_a, user_b) VALUES (?, ?, ?)`,
		NewID(), userA, userB)
	if err != nil {
		return nil, err
	}
	c := &Chat{}
	err = d.QueryRow(`SELECT id, user_a, user_b, created_at, updated_at FROM chats WHERE user_a = ? AND user_b = ?`,
		userA, userB).Scan(&c.ID, &c.UserA, &c.UserB, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (d *DB) GetChatByID(id string) (*Chat, error) {
	c := &Chat{}
	err := d.QueryRow(`SELECT id, user_a, user_b, created_at, updated_at FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.UserA, &c.UserB, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (d *DB) ListChats(userID string) ([]Chat, error) {
	rows, err := d.Query(`
		SELECT id, user_a, user_b, created_at, updated_at FROM chats
		WHERE user_a = ? OR user_b = ?
		ORDER BY updated_at DESC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chats []Chat
	for rows.Next() {
		var c Chat
		if rows.Scan(&c.ID, &c.UserA, &c.UserB, &c.CreatedAt, &c.UpdatedAt) == nil {
			chats = append(chats, c)
		}
	}
	return chats, rows.Err()
}

func (d *DB) CreateChatMessage(chatID, senderID, content, media string, replyToID *string) (*ChatMessage, error) {
	id := NewID()
	_, err := d.Exec(`
		INSERT INTO chat_messages (id, chat_id, sender_id, content, media, reply_to_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, chatID, senderID, content, media, replyToID)
	if err != nil {
		return nil, err
	}
	d.Exec(`UPDATE chats SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, chatID)
	return d.GetChatMessageByID(id)
}

func (d *DB) GetChatMessageByID(id string) (*ChatMessage, error) {
	m := &ChatMessage{}
	var replyTo sql.NullString
	var deleted, edited int
	err := d.QueryRow(`
		SELECT id, chat_id, sender_id, content, media, status, reply_to_id, is_deleted, is_edited, created_at, updated_at
		FROM chat_messages WHERE id = ?`, id).
		Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Media, &m.Status, &replyTo, &deleted, &edited, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if replyTo.Valid {
		m.ReplyToID = &replyTo.String
	}
	m.IsDeleted = deleted == 1
	m.IsEdited = edited == 1
	return m, nil
}

func (d *DB) ListChatMessages(chatID string, before string, limit int) ([]ChatMessage, error) {
	var rows *sql.Rows
	var err error
	if before == "" {
		rows, err = d.Query(`
			SELECT id, chat_id, sender_id, content, media, status, reply_to_id, is_deleted, is_edited, created_at, updated_at
			FROM chat_messages WHERE chat_id = ?
			ORDER BY created_at DESC LIMIT ?`, chatID, limit)
	} else {
		rows, err = d.Query(`
			SELECT id, chat_id, sender_id, content, media, status, reply_to_id, is_deleted, is_edited, created_at, updated_at
			FROM chat_messages WHERE chat_id = ? AND created_at < (SELECT created_at FROM chat_messages WHERE id = ?)
			ORDER BY created_at DESC LIMIT ?`, chatID, before, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var replyTo sql.NullString
		var deleted, edited int
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Media, &m.Status, &replyTo, &deleted, &edited, &m.CreatedAt, &m.UpdatedAt); err != nil {
			continue
		}
		if replyTo.Valid {
			m.ReplyToID = &replyTo.String
		}
		m.IsDeleted = deleted == 1
		m.IsEdited = edited == 1
		msgs = append(msgs, m)
	}
	// Reverse so oldest first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, rows.Err()
}

// MarkDelivered advances sent → delivered. The WHERE clause makes the
// transition idempotent and refuses to move the status backward.
func (d *DB) MarkDelivered(id string) (bool, error) {
	res, err := d.Exec(`
		UPDATE chat_messages SET status = 'delivered', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'sent'`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkSeen advances any non-seen status to seen.
func (d *DB) MarkSeen(id string) (bool, error) {
	res, err := d.Exec(`
		UPDATE chat_messages SET status = 'seen', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status != 'seen'`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkChatSeen marks every message the reader received in a chat as seen.
func (d *DB) MarkChatSeen(chatID, readerID string) error {
	_, err := d.Exec(`
		UPDATE chat_messages SET status = 'seen', updated_at = CURRENT_TIMESTAMP
		WHERE chat_id = ? AND sender_id != ? AND status != 'seen'`, chatID, readerID)
	return err
}

func (d *DB) EditChatMessage(id, content string) error {
	_, err := d.Exec(`
		UPDATE chat_messages SET content = ?, is_edited = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, content, id)
	return err
}

func (d *DB) SoftDeleteChatMessage(id string) error {
	_, err := d.Exec(`
		UPDATE chat_messages SET is_deleted = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, id)
	return err
}

// UnseenCount counts messages across all of a user's chats that were sent by
// the other participant and not yet seen.
func (d *DB) UnseenCount(userID string) (int, error) {
	var n int
	err := d.QueryRow(`
		SELECT COUNT(*) FROM chat_messages m
		JOIN chats c ON m.chat_id = c.id
		WHERE (c.user_a = ? OR c.user_b = ?)
		  AND m.sender_id != ?
		  AND m.status != 'seen'
		  AND m.is_deleted = 0`, userID, userID, userID).Scan(&n)
	return n, err
}

// UndeliveredMessages returns messages addressed to userID still in 'sent',
// oldest first. Used for backlog delivery when a user comes online.
func (d *DB) UndeliveredMessages(userID string) ([]ChatMessage, error) {
	rows, err := d.Query(`
		SELECT m.id, m.chat_id, m.sender_id, m.content, m.media, m.status, m.reply_to_id, m.is_deleted, m.is_edited, m.created_at, m.updated_at
		FROM chat_messages m
		JOIN chats c ON m.chat_id = c.id
		WHERE (c.user_a = ? OR c.user_b = ?)
		  AND m.sender_id != ?
		  AND m.status = 'sent'
		  AND m.is_deleted = 0
		ORDER BY m.created_at ASC`, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var replyTo sql.NullString
		var deleted, edited int
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Media, &m.Status, &replyTo, &deleted, &edited, &m.CreatedAt, &m.UpdatedAt); err != nil {
			continue
		}
		if replyTo.Valid {
			m.ReplyToID = &replyTo.String
		}
		m.IsDeleted = deleted == 1
		m.IsEdited = edited == 1
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
