// Package conversation persists chat conversations and their messages for
// authenticated users. Every read and write that takes a user id is scoped to
// that owner; a row owned by someone else is reported as absent.
package conversation

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codenamespivey12/MojoCode/internal/metrics"
	"github.com/codenamespivey12/MojoCode/internal/storage"
)

// DefaultTitle is used when a conversation is created without a title.
const DefaultTitle = "New Conversation"

var (
	ErrUserRequired         = errors.New("user id is required")
	ErrInvalidRole          = errors.New("role must be one of user, assistant, system")
	ErrEmptyContent         = errors.New("message content cannot be empty")
	ErrEmptyTitle           = errors.New("title cannot be empty")
	ErrInvalidCursor        = errors.New("invalid cursor")
	ErrConversationNotFound = errors.New("conversation not found")
)

// IsValidation reports whether err was caused by caller input rather than the store.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUserRequired) ||
		errors.Is(err, ErrInvalidRole) ||
		errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrEmptyTitle) ||
		errors.Is(err, ErrInvalidCursor)
}

// Service implements conversation persistence on top of a Store.
type Service struct {
	store *storage.Store
	clock func() time.Time
	log   zerolog.Logger
}

type Option func(*Service)

// WithClock overrides the time source used for created_at/updated_at.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// NewService constructs a Service bound to store.
func NewService(store *storage.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		clock: time.Now,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "conversation").Logger()
	return s
}

// now returns the current time at the precision every supported store keeps.
func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// bump returns a timestamp strictly after prev.
func (s *Service) bump(prev time.Time) time.Time {
	now := s.now()
	if floor := prev.UTC().Add(time.Microsecond); now.Before(floor) {
		return floor
	}
	return now
}

func (s *Service) observe(op string, start time.Time, err error) {
	metrics.RecordOperation(op, err, time.Since(start).Seconds())
	if err != nil {
		s.log.Error().Err(err).Str("operation", op).Msg("store operation failed")
	}
}

func normalizeUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrUserRequired
	}
	return userID, nil
}

// parseID reports false for ids that cannot name any stored row.
func parseID(id string) (uuid.UUID, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}

func newID() (uuid.UUID, error) {
	return uuid.NewV7()
}

type rowScanner interface {
	Scan(dest ...any) error
}
