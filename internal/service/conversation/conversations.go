package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codenamespivey12/MojoCode/internal/models"
	"github.com/codenamespivey12/MojoCode/internal/storage"
)

const conversationColumns = `id, user_id, title, created_at, updated_at, metadata`

func scanConversation(row rowScanner) (models.Conversation, error) {
	var c models.Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.Metadata); err != nil {
		return c, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if c.Metadata == nil {
		c.Metadata = models.Metadata{}
	}
	return c, nil
}

// CreateConversation inserts a new conversation owned by userID and returns the stored row.
func (s *Service) CreateConversation(ctx context.Context, userID, title string, metadata models.Metadata) (conv *models.Conversation, err error) {
	userID, err = normalizeUser(userID)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	if metadata == nil {
		metadata = models.Metadata{}
	}

	start := time.Now()
	defer func() { s.observe("create_conversation", start, err) }()

	id, err := newID()
	if err != nil {
		return nil, fmt.Errorf("conversation id: %w", err)
	}
	now := s.now()
	if _, err = s.store.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, title, now, now, metadata,
	); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &models.Conversation{
		ID:        id,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}, nil
}

// GetUserConversations returns every conversation of userID, most recently active first.
func (s *Service) GetUserConversations(ctx context.Context, userID string) (convs []models.Conversation, err error) {
	userID, err = normalizeUser(userID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { s.observe("list_conversations", start, err) }()

	rows, err := s.store.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE user_id = ? ORDER BY updated_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs = make([]models.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// GetConversationWithMessages loads a conversation and its messages, oldest
// first. ok is false when no conversation with that id belongs to userID.
func (s *Service) GetConversationWithMessages(ctx context.Context, conversationID, userID string) (result *models.ConversationWithMessages, ok bool, err error) {
	userID, err = normalizeUser(userID)
	if err != nil {
		return nil, false, err
	}
	id, valid := parseID(conversationID)
	if !valid {
		return nil, false, nil
	}
	start := time.Now()
	defer func() { s.observe("get_conversation", start, err) }()

	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		conv, err := scanConversation(tx.QueryRowContext(ctx,
			`SELECT `+conversationColumns+` FROM conversations WHERE id = ? AND user_id = ?`,
			id, userID,
		))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("get conversation: %w", err)
		}
		messages, err := listMessages(ctx, tx, id)
		if err != nil {
			return err
		}
		result = &models.ConversationWithMessages{Conversation: conv, Messages: messages}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, result != nil, nil
}

// UpdateConversationTitle renames a conversation owned by userID and bumps its
// updated_at. ok is false when no such conversation exists.
func (s *Service) UpdateConversationTitle(ctx context.Context, conversationID, userID, title string) (conv *models.Conversation, ok bool, err error) {
	userID, err = normalizeUser(userID)
	if err != nil {
		return nil, false, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, false, ErrEmptyTitle
	}
	id, valid := parseID(conversationID)
	if !valid {
		return nil, false, nil
	}
	start := time.Now()
	defer func() { s.observe("update_conversation_title", start, err) }()

	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		current, err := scanConversation(tx.QueryRowContext(ctx,
			`SELECT `+conversationColumns+` FROM conversations WHERE id = ? AND user_id = ?`+tx.Dialect().LockClause(),
			id, userID,
		))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("get conversation: %w", err)
		}
		updatedAt := s.bump(current.UpdatedAt)
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
			title, updatedAt, id, userID,
		); err != nil {
			return fmt.Errorf("update conversation title: %w", err)
		}
		current.Title = title
		current.UpdatedAt = updatedAt
		conv = &current
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return conv, conv != nil, nil
}

// DeleteConversation removes a conversation owned by userID together with its
// messages. It reports whether a row was deleted.
func (s *Service) DeleteConversation(ctx context.Context, conversationID, userID string) (deleted bool, err error) {
	userID, err = normalizeUser(userID)
	if err != nil {
		return false, err
	}
	id, valid := parseID(conversationID)
	if !valid {
		return false, nil
	}
	start := time.Now()
	defer func() { s.observe("delete_conversation", start, err) }()

	res, err := s.store.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conversation rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetUserStats counts the user's conversations and the messages across all of them.
func (s *Service) GetUserStats(ctx context.Context, userID string) (stats *models.UserStats, err error) {
	userID, err = normalizeUser(userID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { s.observe("user_stats", start, err) }()

	stats = &models.UserStats{}
	if err = s.store.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT c.id), COUNT(m.id)
		 FROM conversations c
		 LEFT JOIN messages m ON m.conversation_id = c.id
		 WHERE c.user_id = ?`,
		userID,
	).Scan(&stats.TotalConversations, &stats.TotalMessages); err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	return stats, nil
}
