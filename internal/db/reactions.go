package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Reaction kinds. Chat messages and comments accept only like/dislike.
const (
	ReactionLike       = "like"
	ReactionDislike    = "dislike"
	ReactionInsightful = "insightful"
	ReactionHeart      = "heart"
	ReactionHug        = "hug"
	ReactionSoul       = "soul"
)

// Reactable target kinds.
const (
	TargetThread      = "thread"
	TargetPost        = "post"
	TargetComment     = "comment"
	TargetReply       = "reply"
	TargetChatMessage = "chat_message"
)

// reactionColumns maps a reaction type to its counter column on contents.
// The column names are fixed here, never interpolated from user input.
var reactionColumns = map[string]string{
	ReactionLike:       "total_likes",
	ReactionDislike:    "total_dislikes",
	ReactionInsightful: "total_insightful",
	ReactionHeart:      "total_hearts",
	ReactionHug:        "total_hugs",
	ReactionSoul:       "total_souls",
}

func ValidReactionType(t string) bool {
	_, ok := reactionColumns[t]
	return ok
}

func ValidTargetType(t string) bool {
	switch t {
	case TargetThread, TargetPost, TargetComment, TargetReply, TargetChatMessage:
		return true
	}
	return false
}

type Reaction struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	TargetID   string    `json:"target_id"`
	TargetType string    `json:"target_type"`
	Type       string    `json:"type"`
	UpdatedBy  string    `json:"updated_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Content is a reactable piece of user content (thread, post, comment or
// reply) with its per-type reaction counters.
type Content struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	AuthorID    string    `json:"author_id"`
	Title       string    `json:"title,omitempty"`
	GroupID     string    `json:"group_id,omitempty"`
	IsMonetized bool      `json:"is_monetized"`
	Counters    map[string]int `json:"counters"`
	CreatedAt   time.Time `json:"created_at"`
}

// TargetInfo is the polymorphic resolution of any reactable target.
type TargetInfo struct {
	AuthorID  string
	Title     string
	Kind      string
	Monetized bool
}

func (d *DB) CreateContent(kind, authorID, title, groupID string, monetized bool) (*Content, error) {
	id := NewID()
	m := 0
	if monetized {
		m = 1
	}
	_, err := d.Exec(`
		INSERT INTO contents (id, kind, author_id, title, group_id, is_monetized)
		VALUES (?, ?, ?, ?, ?, ?)`, id, kind, authorID, title, groupID, m)
	if err != nil {
		return nil, err
	}
	return d.GetContentByID(id)
}

func (d *DB) GetContentByID(id string) (*Content, error) {
	c := &Content{Counters: make(map[string]int)}
	var monetized int
	var likes, dislikes, insightful, hearts, hugs, souls int
	err := d.QueryRow(`
		SELECT id, kind, author_id, title, group_id, is_monetized,
		       total_likes, total_dislikes, total_insightful, total_hearts, total_hugs, total_souls,
		       created_at
		FROM contents WHERE id = ?`, id).
		Scan(&c.ID, &c.Kind, &c.AuthorID, &c.Title, &c.GroupID, &monetized,
			&likes, &dislikes, &insightful, &hearts, &hugs, &souls, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.IsMonetized = monetized == 1
	c.Counters[ReactionLike] = likes
	c.Counters[ReactionDislike] = dislikes
	c.Counters[ReactionInsightful] = insightful
	c.Counters[ReactionHeart] = hearts
	c.Counters[ReactionHug] = hugs
	c.Counters[ReactionSoul] = souls
	return c, nil
}

// ResolveTarget collapses the per-kind branching into one lookup: any
// reactable target resolves to its author, title and monetization state.
func (d *DB) ResolveTarget(targetType, targetID string) (*TargetInfo, error) {
	if targetType == TargetChatMessage {
		m, err := d.GetChatMessageByID(targetID)
		if err != nil {
			return nil, err
		}
		return &TargetInfo{AuthorID: m.SenderID, Kind: TargetChatMessage}, nil
	}
	c, err := d.GetContentByID(targetID)
	if err != nil {
		return nil, err
	}
	if c.Kind != targetType {
		return nil, sql.ErrNoRows
	}
	return &TargetInfo{AuthorID: c.AuthorID, Title: c.Title, Kind: c.Kind, Monetized: c.IsMonetized}, nil
}

// GetReaction returns a user's reaction on a target, or nil without error
// when none exists.
func (d *DB) GetReaction(userID, targetID, targetType string) (*Reaction, error) {
	r := &Reaction{}
	err := d.QueryRow(`
		SELECT id, user_id, target_id, target_type, type, updated_by, created_at, updated_at
		FROM reactions WHERE user_id = ? AND target_id = ? AND target_type = ?`,
		userID, targetID, targetType).
		Scan(&r.ID, &r.UserID, &r.TargetID, &r.TargetType, &r.Type, &r.UpdatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (d *DB) InsertReaction(userID, targetID, targetType, rtype string) (*Reaction, error) {
	id := NewID()
	_, err := d.Exec(`
		INSERT INTO reactions (id, user_id, target_id, target_type, type, updated_by)
		VALUES (?, ?, ?, ?, ?, ?)`, id, userID, targetID, targetType, rtype, userID)
	if err != nil {
		return nil, err
	}
	return d.GetReaction(userID, targetID, targetType)
}

func (d *DB) UpdateReactionType(id, rtype, updatedBy string) error {
	_, err := d.Exec(`
		UPDATE reactions SET type = ?, updated_by = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, rtype, updatedBy, id)
	return err
}

func (d *DB) DeleteReaction(id string) error {
	_, err := d.Exec(`DELETE FROM reactions WHERE id = ?`, id)
	return err
}

// AdjustReactionCounter applies an atomic +1/-1 to a content counter.
// Decrements floor at zero.
func (d *DB) AdjustReactionCounter(targetID, rtype string, delta int) error {
	col, ok := reactionColumns[rtype]
	if !ok {
		return fmt.Errorf("unknown reaction type %q", rtype)
	}
	var err error
	if delta >= 0 {
		_, err = d.Exec(fmt.Sprintf(`UPDATE contents SET %s = %s + ? WHERE id = ?`, col, col), delta, targetID)
	} else {
		_, err = d.Exec(fmt.Sprintf(`UPDATE contents SET %s = MAX(%s + ?, 0) WHERE id = ?`, col, col), delta, targetID)
	}
	return err
}

// ReactionMap aggregates a target's reactions as type → reacting user IDs.
func (d *DB) ReactionMap(targetID, targetType string) (map[string][]string, error) {
	rows, err := d.Query(`
		SELECT type, user_id FROM reactions
		WHERE target_id = ? AND target_type = ?
		ORDER BY type, created_at`, targetID, targetType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var rtype, userID string
		if rows.Scan(&rtype, &userID) == nil {
			out[rtype] = append(out[rtype], userID)
		}
	}
	return out, rows.Err()
}
