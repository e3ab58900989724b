package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/consultease/central/internal/models"
	appErrors "github.com/consultease/central/pkg/errors"
)

type badgeStudentRepository interface {
	ListAll(ctx context.Context) ([]models.Student, error)
	FindByBadgeUID(ctx context.Context, badgeUID string) (*models.Student, error)
}

// BadgeReadCallback is invoked for every processed badge read. The student is
// nil when the badge is not registered.
type BadgeReadCallback func(student *models.Student, badgeUID string)

// BadgeService resolves badge UIDs scanned at identity units to student
// records. Lookups hit an in-memory cache first; the database is the
// fallback for badges registered after the last refresh.
type BadgeService struct {
	repo   badgeStudentRepository
	logger *zap.Logger

	mu        sync.Mutex
	byBadge   map[string]models.Student
	callbacks []BadgeReadCallback
}

// NewBadgeService constructs a BadgeService with an empty cache.
func NewBadgeService(repo badgeStudentRepository, logger *zap.Logger) *BadgeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BadgeService{
		repo:    repo,
		logger:  logger,
		byBadge: make(map[string]models.Student),
	}
}

// Refresh clears and repopulates the cache from the database.
func (s *BadgeService) Refresh(ctx context.Context) error {
	students, err := s.repo.ListAll(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to refresh badge cache")
	}

	fresh := make(map[string]models.Student, len(students))
	for _, student := range students {
		if student.BadgeUID == "" {
			continue
		}
		fresh[student.BadgeUID] = student
	}

	s.mu.Lock()
	s.byBadge = fresh
	s.mu.Unlock()

	s.logger.Info("badge cache refreshed", zap.Int("entries", len(fresh)))
	return nil
}

// Lookup resolves a badge UID: exact cache hit, then a case-insensitive
// scan (badge readers disagree on hex casing), then the database. Database
// hits are cached for next time.
func (s *BadgeService) Lookup(ctx context.Context, badgeUID string) (*models.Student, error) {
	if badgeUID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "badge uid is empty")
	}

	s.mu.Lock()
	if student, ok := s.byBadge[badgeUID]; ok {
		s.mu.Unlock()
		return &student, nil
	}
	for uid, student := range s.byBadge {
		if strings.EqualFold(uid, badgeUID) {
			s.mu.Unlock()
			return &student, nil
		}
	}
	s.mu.Unlock()

	student, err := s.repo.FindByBadgeUID(ctx, badgeUID)
	if err != nil {
		// An unregistered badge is an ordinary outcome, not an error.
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve badge")
	}

	s.mu.Lock()
	s.byBadge[student.BadgeUID] = *student
	s.mu.Unlock()
	return student, nil
}

// OnBadgeRead registers a callback fired for every badge read processed by
// HandleBadgeRead. Register during wiring, before reads arrive.
func (s *BadgeService) OnBadgeRead(fn BadgeReadCallback) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, fn)
	s.mu.Unlock()
}

// HandleBadgeRead resolves a scanned badge and notifies the registered
// callbacks. A failing callback never blocks the others.
func (s *BadgeService) HandleBadgeRead(ctx context.Context, badgeUID string) (*models.Student, error) {
	student, err := s.Lookup(ctx, badgeUID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		s.logger.Info("badge read for unregistered badge", zap.String("badge_uid", badgeUID))
	}

	s.mu.Lock()
	callbacks := append([]BadgeReadCallback(nil), s.callbacks...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		s.invokeCallback(fn, student, badgeUID)
	}
	return student, nil
}

func (s *BadgeService) invokeCallback(fn BadgeReadCallback, student *models.Student, badgeUID string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("badge read callback panicked",
				zap.String("badge_uid", badgeUID), zap.Any("panic", r))
		}
	}()
	fn(student, badgeUID)
}

// Size reports the number of cached badges.
func (s *BadgeService) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byBadge)
}
