package db

import (
	"database/sql"
	"time"
)

type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	ActorID     *string   `json:"actor_id,omitempty"`
	ThreadID    *string   `json:"thread_id,omitempty"`
	Message     string    `json:"message"`
	Type        string    `json:"type"`
	Metadata    string    `json:"metadata"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

func (d *DB) CreateNotification(recipientID string, actorID, threadID *string, message, ntype, metadata string) (*Notification, error) {
	id := NewID()
	if metadata == "" {
		metadata = "{}"
	}
	_, err := d.Exec(`
		INSERT INTO notifications (id, recipient_id, actor_id, thread_id, message, type, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, recipientID, actorID, threadID, message, ntype, metadata)
	if err != nil {
		return nil, err
	}
	return d.GetNotificationByID(id)
}

func (d *DB) GetNotificationByID(id string) (*Notification, error) {
	n := &Notification{}
	var actorID, threadID sql.NullString
	var read int
	err := d.QueryRow(`
		SELECT id, recipient_id, actor_id, thread_id, message, type, metadata, is_read, created_at
		FROM notifications WHERE id = ?`, id).
		Scan(&n.ID, &n.RecipientID, &actorID, &threadID, &n.Message, &n.Type, &n.Metadata, &read, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	if actorID.Valid {
		n.ActorID = &actorID.String
	}
	if threadID.Valid {
		n.ThreadID = &threadID.String
	}
	n.IsRead = read == 1
	return n, nil
}

func (d *DB) ListNotifications(recipientID string, limit int) ([]Notification, error) {
	rows, err := d.Query(`
		SELECT id, recipient_id, actor_id, thread_id, message, type, metadata, is_read, created_at
		FROM notifications WHERE recipient_id = ?
		ORDER BY created_at DESC LIMIT ?`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Notification
	for rows.Next() {
		var n Notification
		var actorID, threadID sql.NullString
		var read int
		if err := rows.Scan(&n.ID, &n.RecipientID, &actorID, &threadID, &n.Message, &n.Type, &n.Metadata, &read, &n.CreatedAt); err != nil {
			continue
		}
		if actorID.Valid {
			n.ActorID = &actorID.String
		}
		if threadID.Valid {
			n.ThreadID = &threadID.String
		}
		n.IsRead = read == 1
		list = append(list, n)
	}
	return list, rows.Err()
}

func (d *DB) MarkNotificationRead(id, recipientID string) error {
	_, err := d.Exec(`UPDATE notifications SET is_read = 1 WHERE id = ? AND recipient_id = ?`, id, recipientID)
	return err
}

func (d *DB) MarkAllNotificationsRead(recipientID string) error {
	_, err := d.Exec(`UPDATE notifications SET is_read = 1 WHERE recipient_id = ?`, recipientID)
	return err
}

func (d *DB) DeleteNotification(id, recipientID string) error {
	_, err := d.Exec(`DELETE FROM notifications WHERE id = ? AND recipient_id = ?`, id, recipientID)
	return err
}

func (d *DB) UnreadNotificationCount(recipientID string) int {
	var n int
	d.QueryRow(`SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND is_read = 0`, recipientID).Scan(&n)
	return n
}
