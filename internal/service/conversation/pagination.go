package conversation

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codenamespivey12/MojoCode/internal/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// pageCursor marks the last conversation of a page in (updated_at DESC, id DESC) order.
type pageCursor struct {
	UpdatedAt time.Time
	ID        uuid.UUID
}

func (c pageCursor) encode() string {
	raw := strconv.FormatInt(c.UpdatedAt.UnixMicro(), 10) + "." + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(token string) (pageCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return pageCursor{}, ErrInvalidCursor
	}
	micros, id, found := strings.Cut(string(raw), ".")
	if !found {
		return pageCursor{}, ErrInvalidCursor
	}
	usec, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return pageCursor{}, ErrInvalidCursor
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return pageCursor{}, ErrInvalidCursor
	}
	return pageCursor{UpdatedAt: time.UnixMicro(usec).UTC(), ID: parsed}, nil
}

// ListConversations returns one page of the user's conversations, most
// recently active first. An empty cursor starts from the newest conversation.
func (s *Service) ListConversations(ctx context.Context, userID, cursor string, limit int) (page *models.ConversationPage, err error) {
	userID, err = normalizeUser(userID)
	if err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_id = ?`
	args := []any{userID}
	if cursor = strings.TrimSpace(cursor); cursor != "" {
		after, err := decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		query += ` AND (updated_at < ? OR (updated_at = ? AND id < ?))`
		args = append(args, after.UpdatedAt, after.UpdatedAt, after.ID)
	}
	query += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	start := time.Now()
	defer func() { s.observe("page_conversations", start, err) }()

	rows, err := s.store.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("page conversations: %w", err)
	}
	defer rows.Close()

	page = &models.ConversationPage{Conversations: make([]models.Conversation, 0, limit)}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		page.Conversations = append(page.Conversations, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("page conversations: %w", err)
	}

	if len(page.Conversations) > limit {
		page.Conversations = page.Conversations[:limit]
		last := page.Conversations[limit-1]
		page.NextCursor = pageCursor{UpdatedAt: last.UpdatedAt, ID: last.ID}.encode()
	}
	return page, nil
}
