package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codenamespivey12/MojoCode/internal/models"
	"github.com/codenamespivey12/MojoCode/internal/storage"
)

// AddMessage appends a message to a conversation and bumps the conversation's
// updated_at in the same transaction. It does not check ownership; callers
// acting for a user should use AppendMessage.
func (s *Service) AddMessage(ctx context.Context, conversationID string, role models.Role, content string, metadata models.Metadata) (msg *models.Message, err error) {
	if err := validateMessage(role, content); err != nil {
		return nil, err
	}
	id, valid := parseID(conversationID)
	if !valid {
		return nil, ErrConversationNotFound
	}
	start := time.Now()
	defer func() { s.observe("add_message", start, err) }()

	msg, err = s.appendMessage(ctx, id, "", role, content, metadata)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrConversationNotFound
	}
	return msg, nil
}

// AppendMessage is AddMessage restricted to conversations owned by userID.
// ok is false when no such conversation exists.
func (s *Service) AppendMessage(ctx context.Context, conversationID, userID string, role models.Role, content string, metadata models.Metadata) (msg *models.Message, ok bool, err error) {
	userID, err = normalizeUser(userID)
	if err != nil {
		return nil, false, err
	}
	if err := validateMessage(role, content); err != nil {
		return nil, false, err
	}
	id, valid := parseID(conversationID)
	if !valid {
		return nil, false, nil
	}
	start := time.Now()
	defer func() { s.observe("append_message", start, err) }()

	msg, err = s.appendMessage(ctx, id, userID, role, content, metadata)
	if err != nil {
		return nil, false, err
	}
	return msg, msg != nil, nil
}

func validateMessage(role models.Role, content string) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	return nil
}

// appendMessage locks the parent row, inserts the message and moves the
// parent's updated_at strictly forward. An empty owner skips the ownership
// filter. A nil message means the parent was not found.
func (s *Service) appendMessage(ctx context.Context, conversationID uuid.UUID, owner string, role models.Role, content string, metadata models.Metadata) (*models.Message, error) {
	if metadata == nil {
		metadata = models.Metadata{}
	}
	var msg *models.Message
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		query := `SELECT updated_at FROM conversations WHERE id = ?`
		args := []any{conversationID}
		if owner != "" {
			query += ` AND user_id = ?`
			args = append(args, owner)
		}
		var prev time.Time
		if err := tx.QueryRowContext(ctx, query+tx.Dialect().LockClause(), args...).Scan(&prev); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("lock conversation: %w", err)
		}

		msgID, err := newID()
		if err != nil {
			return fmt.Errorf("message id: %w", err)
		}
		now := s.now()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, role, content, created_at, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
			msgID, conversationID, string(role), content, now, metadata,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`,
			s.bump(prev), conversationID,
		); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		msg = &models.Message{
			ID:             msgID,
			ConversationID: conversationID,
			Role:           role,
			Content:        content,
			CreatedAt:      now,
			Metadata:       metadata,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func listMessages(ctx context.Context, q storage.Querier, conversationID uuid.UUID) ([]models.Message, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at, metadata FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt, &m.Metadata); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		if m.Metadata == nil {
			m.Metadata = models.Metadata{}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}
