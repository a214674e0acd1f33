package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/sportsbook/internal/database"
	"github.com/iliyamo/sportsbook/internal/model"
)

// ChatRepo stores rooms, memberships and messages.
type ChatRepo struct {
	db *sql.DB
}

func NewChatRepo(db *sql.DB) *ChatRepo { return &ChatRepo{db: db} }

// DB exposes the pool so handlers can open transactions spanning repos.
func (r *ChatRepo) DB() *sql.DB { return r.db }

const roomColumns = "r.id, r.kind, r.match_id, r.name, r.created_by, r.created_at"

func scanRoom(row interface{ Scan(...any) error }, room *model.ChatRoom) error {
	var matchID sql.NullInt64
	if err := row.Scan(&room.ID, &room.Kind, &matchID, &room.Name, &room.CreatedBy, &room.CreatedAt); err != nil {
		return err
	}
	if matchID.Valid {
		v := uint64(matchID.Int64)
		room.MatchID = &v
	}
	return nil
}

// DirectKey is the de-duplication key of the DIRECT room between a and b.
func DirectKey(a, b uint64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// CreateRoomTx inserts a room.  directKey is only set for DIRECT rooms; a
// second room for the same pair fails with ErrConflict.
func (r *ChatRepo) CreateRoomTx(ctx context.Context, tx *sql.Tx, room *model.ChatRoom, directKey *string) error {
	const op = "repository.ChatRepo.CreateRoomTx"
	res, err := tx.ExecContext(ctx,
		"INSERT INTO chat_rooms (kind, match_id, direct_key, name, created_by) VALUES (?, ?, ?, ?, ?)",
		room.Kind, room.MatchID, directKey, room.Name, room.CreatedBy)
	if err != nil {
		if database.IsDuplicateKey(err) {
			return fmt.Errorf("%s: %w", op, ErrConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return wrap(op, scanRoom(tx.QueryRowContext(ctx, "SELECT "+roomColumns+" FROM chat_rooms r WHERE r.id = ?", id), room))
}

// GetRoom fetches a room by id.
func (r *ChatRepo) GetRoom(ctx context.Context, id uint64) (model.ChatRoom, error) {
	var room model.ChatRoom
	err := scanRoom(r.db.QueryRowContext(ctx, "SELECT "+roomColumns+" FROM chat_rooms r WHERE r.id = ?", id), &room)
	return room, wrap("repository.ChatRepo.GetRoom", err)
}

// FindDirect returns the DIRECT room with the given key.
func (r *ChatRepo) FindDirect(ctx context.Context, key string) (model.ChatRoom, error) {
	var room model.ChatRoom
	err := scanRoom(r.db.QueryRowContext(ctx, "SELECT "+roomColumns+" FROM chat_rooms r WHERE r.direct_key = ?", key), &room)
	return room, wrap("repository.ChatRepo.FindDirect", err)
}

// RoomIDForMatchTx returns the id of a match's chat room.
func (r *ChatRepo) RoomIDForMatchTx(ctx context.Context, tx *sql.Tx, matchID uint64) (uint64, error) {
	var id uint64
	err := tx.QueryRowContext(ctx, "SELECT id FROM chat_rooms WHERE match_id = ?", matchID).Scan(&id)
	return id, wrap("repository.ChatRepo.RoomIDForMatchTx", err)
}

// AddMemberTx adds userID to a room.  Adding an existing member is a no-op.
func (r *ChatRepo) AddMemberTx(ctx context.Context, tx *sql.Tx, roomID, userID uint64) error {
	_, err := tx.ExecContext(ctx, "INSERT IGNORE INTO chat_members (room_id, user_id) VALUES (?, ?)", roomID, userID)
	if err != nil {
		return fmt.Errorf("repository.ChatRepo.AddMemberTx: %w", err)
	}
	return nil
}

// RemoveMemberTx drops userID from a room.
func (r *ChatRepo) RemoveMemberTx(ctx context.Context, tx *sql.Tx, roomID, userID uint64) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM chat_members WHERE room_id = ? AND user_id = ?", roomID, userID)
	if err != nil {
		return fmt.Errorf("repository.ChatRepo.RemoveMemberTx: %w", err)
	}
	return nil
}

// IsMember reports whether userID belongs to the room.
func (r *ChatRepo) IsMember(ctx context.Context, roomID, userID uint64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM chat_members WHERE room_id = ? AND user_id = ?", roomID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository.ChatRepo.IsMember: %w", err)
	}
	return true, nil
}

// MemberIDs lists the user ids of a room.
func (r *ChatRepo) MemberIDs(ctx context.Context, roomID uint64) ([]uint64, error) {
	const op = "repository.ChatRepo.MemberIDs"
	rows, err := r.db.QueryContext(ctx, "SELECT user_id FROM chat_members WHERE room_id = ? ORDER BY user_id", roomID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RoomSummary is a room as listed for one of its members.
type RoomSummary struct {
	model.ChatRoom
	LastMessageID *uint64 `json:"last_message_id,omitempty"`
	MemberCount   int     `json:"member_count"`
}

// ListRooms returns the rooms userID belongs to, most recently active first.
func (r *ChatRepo) ListRooms(ctx context.Context, userID uint64) ([]RoomSummary, error) {
	const op = "repository.ChatRepo.ListRooms"
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+roomColumns+`,
		        (SELECT MAX(m.id) FROM chat_messages m WHERE m.room_id = r.id) AS last_id,
		        (SELECT COUNT(*) FROM chat_members c2 WHERE c2.room_id = r.id) AS members
		 FROM chat_rooms r JOIN chat_members c ON c.room_id = r.id
		 WHERE c.user_id = ?
		 ORDER BY COALESCE(last_id, 0) DESC, r.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := []RoomSummary{}
	for rows.Next() {
		var s RoomSummary
		var matchID, lastID sql.NullInt64
		if err := rows.Scan(&s.ID, &s.Kind, &matchID, &s.Name, &s.CreatedBy, &s.CreatedAt, &lastID, &s.MemberCount); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if matchID.Valid {
			v := uint64(matchID.Int64)
			s.MatchID = &v
		}
		if lastID.Valid {
			v := uint64(lastID.Int64)
			s.LastMessageID = &v
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateMessage stores a message and populates its id, timestamp and the
// sender's display name.
func (r *ChatRepo) CreateMessage(ctx context.Context, m *model.ChatMessage) error {
	const op = "repository.ChatRepo.CreateMessage"
	res, err := r.db.ExecContext(ctx, "INSERT INTO chat_messages (room_id, sender_id, body) VALUES (?, ?, ?)",
		m.RoomID, m.SenderID, m.Body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return wrap(op, r.db.QueryRowContext(ctx,
		`SELECT m.id, m.room_id, m.sender_id, u.display_name, m.body, m.created_at
		 FROM chat_messages m JOIN users u ON u.id = m.sender_id WHERE m.id = ?`, id).
		Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Sender, &m.Body, &m.CreatedAt))
}

// MessagePage selects a window of a room's history.  With AfterID set the
// page holds the oldest messages newer than it; otherwise it holds the
// newest messages older than BeforeID (or the latest when zero).  Pages
// are always returned in ascending id order.
type MessagePage struct {
	BeforeID uint64
	AfterID  uint64
	Limit    int
}

// Messages returns one page of a room's history.
func (r *ChatRepo) Messages(ctx context.Context, roomID uint64, p MessagePage) ([]model.ChatMessage, error) {
	const op = "repository.ChatRepo.Messages"
	q := `SELECT m.id, m.room_id, m.sender_id, u.display_name, m.body, m.created_at
	      FROM chat_messages m JOIN users u ON u.id = m.sender_id WHERE m.room_id = ?`
	args := []any{roomID}
	desc := true
	switch {
	case p.AfterID > 0:
		q += " AND m.id > ? ORDER BY m.id ASC"
		args = append(args, p.AfterID)
		desc = false
	case p.BeforeID > 0:
		q += " AND m.id < ? ORDER BY m.id DESC"
		args = append(args, p.BeforeID)
	default:
		q += " ORDER BY m.id DESC"
	}
	q += " LIMIT ?"
	args = append(args, p.Limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := []model.ChatMessage{}
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Sender, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if desc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}
