package db

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

func Init(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// modernc sqlite is single-writer; serialize access to avoid SQLITE_BUSY
	// under concurrent handler goroutines.
	sqldb.SetMaxOpenConns(1)
	d := &DB{sqldb}
	if err := d.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return d, nil
}

func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT UNIQUE NOT NULL,
	email         TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	avatar        TEXT DEFAULT '',
	soulpoints    INTEGER DEFAULT 0,
	created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS friends (
	user_id    TEXT NOT NULL,
	friend_id  TEXT NOT NULL,
	status     TEXT DEFAULT 'pending',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, friend_id),
	FOREIGN KEY (user_id)   REFERENCES users(id) ON DELETE CASCADE,
	FOREIGN KEY (friend_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL,
	actor_id     TEXT,
	thread_id    TEXT,
	message      TEXT NOT NULL,
	type         TEXT NOT NULL,
	metadata     TEXT DEFAULT '{}',
	is_read      INTEGER DEFAULT 0,
	created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (recipient_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	user_a     TEXT NOT NULL,
	user_b     TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (user_a, user_b)
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id          TEXT PRIMARY KEY,
	chat_id     TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	content     TEXT DEFAULT '',
	media       TEXT DEFAULT '',
	status      TEXT DEFAULT 'sent' CHECK (status IN ('sent','delivered','seen')),
	reply_to_id TEXT,
	is_deleted  INTEGER DEFAULT 0,
	is_edited   INTEGER DEFAULT 0,
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS contents (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL CHECK (kind IN ('thread','post','comment','reply')),
	author_id       TEXT NOT NULL,
	title           TEXT DEFAULT '',
	group_id        TEXT DEFAULT '',
	is_monetized    INTEGER DEFAULT 0,
	total_likes     INTEGER DEFAULT 0,
	total_dislikes  INTEGER DEFAULT 0,
	total_insightful INTEGER DEFAULT 0,
	total_hearts    INTEGER DEFAULT 0,
	total_hugs      INTEGER DEFAULT 0,
	total_souls     INTEGER DEFAULT 0,
	created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS reactions (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	target_id   TEXT NOT NULL,
	target_type TEXT NOT NULL,
	type        TEXT NOT NULL,
	updated_by  TEXT DEFAULT '',
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (user_id, target_id, target_type)
);

CREATE TABLE IF NOT EXISTS chambers (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	description       TEXT DEFAULT '',
	avatar            TEXT DEFAULT '',
	is_public         INTEGER DEFAULT 1,
	invite_code       TEXT DEFAULT '',
	invite_expires_at DATETIME,
	creator_id        TEXT NOT NULL,
	member_count      INTEGER DEFAULT 0,
	created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chamber_members (
	chamber_id   TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	is_moderator INTEGER DEFAULT 0,
	joined_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (chamber_id, user_id),
	FOREIGN KEY (chamber_id) REFERENCES chambers(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS chamber_join_requests (
	id         TEXT PRIMARY KEY,
	chamber_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	status     TEXT DEFAULT 'pending',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (chamber_id, user_id),
	FOREIGN KEY (chamber_id) REFERENCES chambers(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS chamber_messages (
	id          TEXT PRIMARY KEY,
	chamber_id  TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	content     TEXT DEFAULT '',
	media       TEXT DEFAULT '',
	reply_to_id TEXT,
	is_deleted  INTEGER DEFAULT 0,
	is_edited   INTEGER DEFAULT 0,
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (chamber_id) REFERENCES chambers(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS game_rooms (
	room_id      TEXT PRIMARY KEY,
	white_player TEXT DEFAULT '',
	black_player TEXT DEFAULT '',
	current_turn TEXT DEFAULT 'white',
	game_status  TEXT DEFAULT 'waiting' CHECK (game_status IN ('waiting','active','finished')),
	is_ai_game   INTEGER DEFAULT 0,
	winner       TEXT DEFAULT '',
	game_state   TEXT DEFAULT '',
	created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chess_invitations (
	id         TEXT PRIMARY KEY,
	inviter_id TEXT NOT NULL,
	invitee_id TEXT DEFAULT '',
	room_id    TEXT NOT NULL,
	is_public  INTEGER DEFAULT 0,
	status     TEXT DEFAULT 'pending' CHECK (status IN ('pending','accepted','expired','rejected')),
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS moves (
	id          TEXT PRIMARY KEY,
	room_id     TEXT NOT NULL,
	move_number INTEGER NOT NULL,
	from_square TEXT NOT NULL,
	to_square   TEXT NOT NULL,
	piece       TEXT NOT NULL,
	captured    TEXT DEFAULT '',
	player_id   TEXT NOT NULL,
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (room_id, move_number),
	FOREIGN KEY (room_id) REFERENCES game_rooms(room_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at);
CREATE INDEX IF NOT EXISTS idx_chat_messages_chat ON chat_messages(chat_id, created_at);
CREATE INDEX IF NOT EXISTS idx_chat_messages_status ON chat_messages(status);
CREATE INDEX IF NOT EXISTS idx_reactions_target ON reactions(target_id, target_type);
CREATE INDEX IF NOT EXISTS idx_chamber_messages_chamber ON chamber_messages(chamber_id, created_at);
CREATE INDEX IF NOT EXISTS idx_chamber_members_user ON chamber_members(user_id);
CREATE INDEX IF NOT EXISTS idx_moves_room ON moves(room_id, move_number);
CREATE INDEX IF NOT EXISTS idx_chess_invitations_room ON chess_invitations(room_id, status);
`
	_, err := d.Exec(schema)
	return err
}

// --- Helpers ---

func NewID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// --- Models ---

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Avatar       string    `json:"avatar"`
	Soulpoints   int       `json:"soulpoints"`
	CreatedAt    time.Time `json:"created_at"`
}

// --- Users ---

func (d *DB) CreateUser(username, email, hash string) (*User, error) {
	id := NewID()
	_, err := d.Exec(
		`INSERT INTO users (id, username, email, password_hash) VALUES (?, ?, ?, ?)`,
		id, username, email, hash,
	)
	if err != nil {
		return nil, err
	}
	return d.GetUserByID(id)
}

func (d *DB) scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Avatar, &u.Soulpoints, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (d *DB) GetUserByID(id string) (*User, error) {
	return d.scanUser(d.QueryRow(
		`SELECT id, username, email, password_hash, avatar, soulpoints, created_at FROM users WHERE id = ?`, id))
}

func (d *DB) GetUserByUsername(username string) (*User, error) {
	return d.scanUser(d.QueryRow(
		`SELECT id, username, email, password_hash, avatar, soulpoints, created_at FROM users WHERE username = ?`, username))
}

func (d *DB) GetUserByEmail(email string) (*User, error) {
	return d.scanUser(d.QueryRow(
		`SELECT id, username, email, password_hash, avatar, soulpoints, created_at FROM users WHERE email = ?`, email))
}

func (d *DB) UpdateUser(id, username, avatar string) error {
	_, err := d.Exec(`UPDATE users SET username = ?, avatar = ? WHERE id = ?`, username, avatar, id)
	return err
}

// AwardSoulpoints applies an atomic balance increment, mirroring an
// RPC-style increment so concurrent awards never lose updates.
func (d *DB) AwardSoulpoints(userID string, points int) error {
	_, err := d.Exec(`UPDATE users SET soulpoints = soulpoints + ? WHERE id = ?`, points, userID)
	return err
}

// --- Friends ---

func (d *DB) AddFriend(userID, friendID string) error {
	_, err := d.Exec(`INSERT OR IGNORE INTO friends (user_id, friend_id) VALUES (?, ?)`, userID, friendID)
	return err
}

// AcceptFriend marks the pending request accepted and mirrors the row so
// either side can look up the other with a single-column query.
func (d *DB) AcceptFriend(userID, friendID string) error {
	res, err := d.Exec(`UPDATE friends SET status = 'accepted' WHERE user_id = ? AND friend_id = ?`, friendID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	_, err = d.Exec(`INSERT OR REPLACE INTO friends (user_id, friend_id, status) VALUES (?, ?, 'accepted')`, userID, friendID)
	return err
}

// GetFriendIDs returns the users with an accepted friendship with userID.
func (d *DB) GetFriendIDs(userID string) ([]string, error) {
	rows, err := d.Query(`SELECT friend_id FROM friends WHERE user_id = ? AND status = 'accepted'`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if rows.Scan(&id) == nil {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

func (d *DB) ListFriends(userID string) ([]User, error) {
	rows, err := d.Query(`
		SELECT u.id, u.username, u.email, u.password_hash, u.avatar, u.soulpoints, u.created_at
		FROM users u
		JOIN friends f ON u.id = f.friend_id
		WHERE f.user_id = ? AND f.status = 'accepted'
		ORDER BY u.username ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var u User
		if rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Avatar, &u.Soulpoints, &u.CreatedAt) == nil {
			users = append(users, u)
		}
	}
	return users, rows.Err()
}
