package db

import (
	"database/sql"
	"time"
)

type Chamber struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Avatar          string     `json:"avatar"`
	IsPublic        bool       `json:"is_public"`
	InviteCode      string     `json:"-"`
	InviteExpiresAt *time.Time `json:"-"`
	CreatorID       string     `json:"creator_id"`
	MemberCount     int        `json:"member_count"`
	CreatedAt       time.Time  `json:"created_at"`
}

type ChamberMember struct {
	ChamberID   string    `json:"chamber_id"`
	UserID      string    `json:"user_id"`
	IsModerator bool      `json:"is_moderator"`
	JoinedAt    time.Time `json:"joined_at"`
}

type ChamberJoinRequest struct {
	ID        string    `json:"id"`
	ChamberID string    `json:"chamber_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type ChamberMessage struct {
	ID        string    `json:"id"`
	ChamberID string    `json:"chamber_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content,omitempty"`
	Media     string    `json:"media,omitempty"`
	ReplyToID *string   `json:"reply_to_id,omitempty"`
	IsDeleted bool      `json:"is_deleted"`
	IsEdited  bool      `json:"is_edited"`
	CreatedAt time.Time `json:"created_at"`
}

func (d *DB) CreateChamber(name, description string, isPublic bool, creatorID string) (*Chamber, error) {
	id := NewID()
	pub := 0
	inviteCode := ""
	if isPublic {
		pub = 1
	} else {
		inviteCode = NewID()
	}
	_, err := d.Exec(`
		INSERT INTO chambers (id, name, description, is_public, invite_code, creator_id)
		VALUES (?, ?, ?, ?, ?, ?)`, id, name, description, pub, inviteCode, creatorID)
	if err != nil {
		return nil, err
	}
	return d.GetChamberByID(id)
}

func (d *DB) GetChamberByID(id string) (*Chamber, error) {
	c := &Chamber{}
	var pub int
	var expires sql.NullTime
	err := d.QueryRow(`
		SELECT id, name, description, avatar, is_public, invite_code, invite_expires_at, creator_id, member_count, created_at
		FROM chambers WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Description, &c.Avatar, &pub, &c.InviteCode, &expires, &c.CreatorID, &c.MemberCount, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.IsPublic = pub == 1
	if expires.Valid {
		c.InviteExpiresAt = &expires.Time
	}
	return c, nil
}

func (d *DB) ListChambers() ([]Chamber, error) {
	rows, err := d.Query(`
		SELECT id, name, description, avatar, is_public, invite_code, invite_expires_at, creator_id, member_count, created_at
		FROM chambers ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chambers []Chamber
	for rows.Next() {
		var c Chamber
		var pub int
		var expires sql.NullTime
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Avatar, &pub, &c.InviteCode, &expires, &c.CreatorID, &c.MemberCount, &c.CreatedAt); err != nil {
			continue
		}
		c.IsPublic = pub == 1
		if expires.Valid {
			c.InviteExpiresAt = &expires.Time
		}
		chambers = append(chambers, c)
	}
	return chambers, rows.Err()
}

func (d *DB) UpdateChamberName(id, name string) error {
	_, err := d.Exec(`UPDATE chambers SET name = ? WHERE id = ?`, name, id)
	return err
}

func (d *DB) UpdateChamberDescription(id, description string) error {
	_, err := d.Exec(`UPDATE chambers SET description = ? WHERE id = ?`, description, id)
	return err
}

func (d *DB) UpdateChamberAvatar(id, avatar string) error {
	_, err := d.Exec(`UPDATE chambers SET avatar = ? WHERE id = ?`, avatar, id)
	return err
}

func (d *DB) DeleteChamber(id string) error {
	_, err := d.Exec(`DELETE FROM chambers WHERE id = ?`, id)
	return err
}

// IsChamberInviteValid reports whether code matches and has not expired.
func (d *DB) IsChamberInviteValid(c *Chamber, code string) bool {
	if c.InviteCode == "" || code != c.InviteCode {
		return false
	}
	if c.InviteExpiresAt != nil && time.Now().After(*c.InviteExpiresAt) {
		return false
	}
	return true
}

// --- Membership ---

// AddChamberMember inserts a membership row and bumps member_count
// atomically. Re-joining is a no-op.
func (d *DB) AddChamberMember(chamberID, userID string) error {
	res, err := d.Exec(`INSERT OR IGNORE INTO chamber_members (chamber_id, user_id) VALUES (?, ?)`,
		chamberID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		_, err = d.Exec(`UPDATE chambers SET member_count = member_count + 1 WHERE id = ?`, chamberID)
	}
	return err
}

func (d *DB) RemoveChamberMember(chamberID, userID string) error {
	res, err := d.Exec(`DELETE FROM chamber_members WHERE chamber_id = ? AND user_id = ?`, chamberID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		_, err = d.Exec(`UPDATE chambers SET member_count = MAX(member_count - 1, 0) WHERE id = ?`, chamberID)
	}
	return err
}

// GetChamberMember returns nil without error when userID is not a member.
func (d *DB) GetChamberMember(chamberID, userID string) (*ChamberMember, error) {
	m := &ChamberMember{}
	var mod int
	err := d.QueryRow(`
		SELECT chamber_id, user_id, is_moderator, joined_at
		FROM chamber_members WHERE chamber_id = ? AND user_id = ?`, chamberID, userID).
		Scan(&m.ChamberID, &m.UserID, &mod, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.IsModerator = mod == 1
	return m, nil
}

func (d *DB) ListChamberMemberIDs(chamberID string) ([]string, error) {
	rows, err := d.Query(`SELECT user_id FROM chamber_members WHERE chamber_id = ?`, chamberID)
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

func (d *DB) SetChamberModerator(chamberID, userID string, moderator bool) error {
	mod := 0
	if moderator {
		mod = 1
	}
	_, err := d.Exec(`UPDATE chamber_members SET is_moderator = ? WHERE chamber_id = ? AND user_id = ?`,
		mod, chamberID, userID)
	return err
}

// --- Join requests ---

func (d *DB) CreateJoinRequest(chamberID, userID string) (*ChamberJoinRequest, error) {
	id := NewID()
	_, err := d.Exec(`
		INSERT OR IGNORE INTO chamber_join_requests (id, chamber_id, user_id) VALUES (?, ?, ?)`,
		id, chamberID, userID)
	if err != nil {
		return nil, err
	}
	r := &ChamberJoinRequest{}
	err = d.QueryRow(`
		SELECT id, chamber_id, user_id, status, created_at
		FROM chamber_join_requests WHERE chamber_id = ? AND user_id = ?`, chamberID, userID).
		Scan(&r.ID, &r.ChamberID, &r.UserID, &r.Status, &r.CreatedAt)
	return r, err
}

func (d *DB) GetJoinRequest(id string) (*ChamberJoinRequest, error) {
	r := &ChamberJoinRequest{}
	err := d.QueryRow(`
		SELECT id, chamber_id, user_id, status, created_at
		FROM chamber_join_requests WHERE id = ?`, id).
		Scan(&r.ID, &r.ChamberID, &r.UserID, &r.Status, &r.CreatedAt)
	return r, err
}

func (d *DB) ListPendingJoinRequests(chamberID string) ([]ChamberJoinRequest, error) {
	rows, err := d.Query(`
		SELECT id, chamber_id, user_id, status, created_at
		FROM chamber_join_requests WHERE chamber_id = ? AND status = 'pending'
		ORDER BY created_at ASC`, chamberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reqs []ChamberJoinRequest
	for rows.Next() {
		var r ChamberJoinRequest
		if rows.Scan(&r.ID, &r.ChamberID, &r.UserID, &r.Status, &r.CreatedAt) == nil {
			reqs = append(reqs, r)
		}
	}
	return reqs, rows.Err()
}

func (d *DB) ResolveJoinRequest(id, status string) error {
	_, err := d.Exec(`UPDATE chamber_join_requests SET status = ? WHERE id = ? AND status = 'pending'`, status, id)
	return err
}

// --- Messages ---

func (d *DB) CreateChamberMessage(chamberID, senderID, content, media string, replyToID *string) (*ChamberMessage, error) {
	id := NewID()
	_, err := d.Exec(`
		INSERT INTO chamber_messages (id, chamber_id, sender_id, content, media, reply_to_id)
		VALUES (?, ?, ?, ?, ?, ?)`, id, chamberID, senderID, content, media, replyToID)
	if err != nil {
		return nil, err
	}
	return d.GetChamberMessageByID(id)
}

func (d *DB) GetChamberMessageByID(id string) (*ChamberMessage, error) {
	m := &ChamberMessage{}
	var replyTo sql.NullString
	var deleted, edited int
	err := d.QueryRow(`
		SELECT id, chamber_id, sender_id, content, media, reply_to_id, is_deleted, is_edited, created_at
		FROM chamber_messages WHERE id = ?`, id).
		Scan(&m.ID, &m.ChamberID, &m.SenderID, &m.Content, &m.Media, &replyTo, &deleted, &edited, &m.CreatedAt)
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

func (d *DB) ListChamberMessages(chamberID string, limit int) ([]ChamberMessage, error) {
	rows, err := d.Query(`
		SELECT id, chamber_id, sender_id, content, media, reply_to_id, is_deleted, is_edited, created_at
		FROM chamber_messages WHERE chamber_id = ?
		ORDER BY created_at DESC LIMIT ?`, chamberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []ChamberMessage
	for rows.Next() {
		var m ChamberMessage
		var replyTo sql.NullString
		var deleted, edited int
		if err := rows.Scan(&m.ID, &m.ChamberID, &m.SenderID, &m.Content, &m.Media, &replyTo, &deleted, &edited, &m.CreatedAt); err != nil {
			continue
		}
		if replyTo.Valid {
			m.ReplyToID = &replyTo.String
		}
		m.IsDeleted = deleted == 1
		m.IsEdited = edited == 1
		msgs = append(msgs, m)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, rows.Err()
}

func (d *DB) EditChamberMessage(id, content string) error {
	_, err := d.Exec(`UPDATE chamber_messages SET content = ?, is_edited = 1 WHERE id = ?`, content, id)
	return err
}

func (d *DB) SoftDeleteChamberMessage(id string) error {
	_, err := d.Exec(`UPDATE chamber_messages SET is_deleted = 1 WHERE id = ?`, id)
	return err
}
