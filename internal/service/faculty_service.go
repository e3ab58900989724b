package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/consultease/central/internal/models"
	"github.com/consultease/central/internal/mqtt"
	appErrors "github.com/consultease/central/pkg/errors"
)

type facultyRepository interface {
	List(ctx context.Context, filter models.FacultyFilter) ([]models.Faculty, int, error)
	ListLapsedGrace(ctx context.Context, now time.Time) ([]models.Faculty, error)
	FindByID(ctx context.Context, id string) (*models.Faculty, error)
	FindByBeaconID(ctx context.Context, beaconID string) (*models.Faculty, error)
	ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error)
	ExistsByBeaconID(ctx context.Context, beaconID, excludeID string) (bool, error)
	Create(ctx context.Context, f *models.Faculty) error
	Update(ctx context.Context, f *models.Faculty) error
	UpdateAvailability(ctx context.Context, f *models.Faculty) error
	MarkAllUnavailable(ctx context.Context) error
	Delete(ctx context.Context, id string) error
}

// consultationReplayer replays undelivered requests to a desk unit that just
// came back online.
type consultationReplayer interface {
	ResendActiveForFaculty(ctx context.Context, facultyID string) error
}

// FacultyRequest carries faculty profile writes.
type FacultyRequest struct {
	Name            string `json:"name" validate:"required,max=120"`
	Department      string `json:"department" validate:"required,max=120"`
	Email           string `json:"email" validate:"required,email"`
	BeaconID        string `json:"beacon_id" validate:"omitempty,max=64"`
	AlwaysAvailable bool   `json:"always_available"`
}

// AvailabilityNotice is the board update published whenever a faculty
// member's effective availability changes.
type AvailabilityNotice struct {
	FacultyID  string     `json:"faculty_id"`
	Name       string     `json:"name"`
	Department string     `json:"department"`
	Available  bool       `json:"available"`
	InGrace    bool       `json:"in_grace_period,omitempty"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

// FacultyService owns faculty profiles and the availability state machine
// fed by desk-unit presence signals.
type FacultyService struct {
	repo      facultyRepository
	replayer  consultationReplayer
	bus       messageBus
	cache     *CacheService
	topics    mqtt.Topics
	grace     time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewFacultyService constructs a FacultyService.
func NewFacultyService(repo facultyRepository, replayer consultationReplayer, bus messageBus, cache *CacheService, topics mqtt.Topics, grace time.Duration, validate *validator.Validate, logger *zap.Logger) *FacultyService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if grace <= 0 {
		grace = time.Minute
	}
	return &FacultyService{
		repo:      repo,
		replayer:  replayer,
		bus:       bus,
		cache:     cache,
		topics:    topics,
		grace:     grace,
		validator: validate,
		logger:    logger,
	}
}

type facultyListing struct {
	Faculty    []models.Faculty  `json:"faculty"`
	Pagination models.Pagination `json:"pagination"`
}

// List returns faculty with pagination metadata. Availability in the result
// is the effective value, grace window included. Listings are served from
// the board cache when one is configured; presence writes invalidate it.
func (s *FacultyService) List(ctx context.Context, filter models.FacultyFilter) ([]models.Faculty, *models.Pagination, error) {
	key := boardCacheKey(filter)
	if s.cache.Enabled() {
		var cached facultyListing
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			p := cached.Pagination
			return cached.Faculty, &p, nil
		}
	}

	faculty, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list faculty")
	}
	now := time.Now().UTC()
	for i := range faculty {
		faculty[i].Available = faculty[i].EffectiveAvailability(now)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := models.Pagination{Page: page, PageSize: size, TotalCount: total}

	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, key, facultyListing{Faculty: faculty, Pagination: pagination}, boardCacheTTL)
	}
	return faculty, &pagination, nil
}

// boardCacheTTL is short: availability changes must surface quickly even if
// an invalidation is missed.
const boardCacheTTL = 10 * time.Second

func boardCacheKey(filter models.FacultyFilter) string {
	available := "any"
	if filter.Available != nil {
		available = fmt.Sprintf("%t", *filter.Available)
	}
	return fmt.Sprintf("faculty:list:%s:%s:%d:%d", available, filter.Search, filter.Page, filter.PageSize)
}

// Get fetches one faculty member.
func (s *FacultyService) Get(ctx context.Context, id string) (*models.Faculty, error) {
	f, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "faculty not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load faculty")
	}
	f.Available = f.EffectiveAvailability(time.Now().UTC())
	return f, nil
}

// Create registers a new faculty member.
func (s *FacultyService) Create(ctx context.Context, req FacultyRequest) (*models.Faculty, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid faculty payload")
	}
	if err := s.checkUniqueness(ctx, req, ""); err != nil {
		return nil, err
	}
	f := &models.Faculty{
		Name:            req.Name,
		Department:      req.Department,
		Email:           req.Email,
		BeaconID:        req.BeaconID,
		AlwaysAvailable: req.AlwaysAvailable,
		Available:       req.AlwaysAvailable,
	}
	if err := s.repo.Create(ctx, f); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create faculty")
	}
	s.invalidateBoard(ctx)
	return f, nil
}

// Update modifies a faculty profile. Toggling AlwaysAvailable takes effect
// immediately on the board.
func (s *FacultyService) Update(ctx context.Context, id string, req FacultyRequest) (*models.Faculty, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid faculty payload")
	}
	f, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "faculty not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load faculty")
	}

	if err := s.checkUniqueness(ctx, req, id); err != nil {
		return nil, err
	}

	f.Name = req.Name
	f.Department = req.Department
	f.Email = req.Email
	f.BeaconID = req.BeaconID
	f.AlwaysAvailable = req.AlwaysAvailable
	if err := s.repo.Update(ctx, f); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update faculty")
	}

	s.invalidateBoard(ctx)
	s.publishAvailability(*f)
	return f, nil
}

// checkUniqueness rejects writes that would reuse another record's email or
// beacon identifier.
func (s *FacultyService) checkUniqueness(ctx context.Context, req FacultyRequest, excludeID string) error {
	taken, err := s.repo.ExistsByEmail(ctx, req.Email, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check faculty email")
	}
	if taken {
		return appErrors.Clone(appErrors.ErrConflict, "email already in use")
	}
	if req.BeaconID != "" {
		taken, err = s.repo.ExistsByBeaconID(ctx, req.BeaconID, excludeID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check faculty beacon")
		}
		if taken {
			return appErrors.Clone(appErrors.ErrConflict, "beacon id already in use")
		}
	}
	return nil
}

// Delete removes a faculty member.
func (s *FacultyService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete faculty")
	}
	s.invalidateBoard(ctx)
	return nil
}

// ResetAvailability marks everyone offline except always-available faculty,
// run at startup before retained presence beacons replay.
func (s *FacultyService) ResetAvailability(ctx context.Context) error {
	if err := s.repo.MarkAllUnavailable(ctx); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset availability")
	}
	s.invalidateBoard(ctx)
	return nil
}

// HandlePresence consumes a desk-unit presence payload. Satisfies the router
// Handler signature; registered on the faculty status wildcard and the legacy
// status topic.
func (s *FacultyService) HandlePresence(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	update, err := mqtt.ParsePresence(payload)
	if err != nil {
		s.logger.Warn("unparseable presence payload", zap.String("topic", topic), zap.Error(err))
		return
	}

	f, err := s.resolveFaculty(ctx, topic, payload)
	if err != nil {
		s.logger.Warn("presence signal for unknown faculty", zap.String("topic", topic), zap.Error(err))
		return
	}

	s.applyPresence(ctx, f, update)
}

func (s *FacultyService) resolveFaculty(ctx context.Context, topic string, payload []byte) (*models.Faculty, error) {
	if id, ok := s.topics.FacultyIDFromStatusTopic(topic); ok {
		return s.repo.FindByID(ctx, id)
	}
	// Legacy topic carries no faculty id; the payload's beacon is the only
	// hint, and bare strings identify the single configured legacy unit.
	var probe struct {
		BeaconID string `json:"beacon_id"`
	}
	if err := json.Unmarshal(payload, &probe); err == nil && probe.BeaconID != "" {
		return s.repo.FindByBeaconID(ctx, probe.BeaconID)
	}
	return nil, errors.New("presence topic carries no faculty identity")
}

func (s *FacultyService) applyPresence(ctx context.Context, f *models.Faculty, update mqtt.PresenceUpdate) {
	now := time.Now().UTC()
	f.LastSeen = &now

	wasAvailable := f.EffectiveAvailability(now)
	cameOnline := update.Present && !f.Available

	if update.Present {
		f.Available = true
		f.InGracePeriod = false
		f.GraceUntil = nil
	} else if !f.AlwaysAvailable {
		f.Available = false
		grace := s.grace
		if update.InGracePeriod && update.GraceRemaining > 0 {
			grace = update.GraceRemaining
		}
		until := now.Add(grace)
		f.InGracePeriod = true
		f.GraceUntil = &until
	}

	if err := s.repo.UpdateAvailability(ctx, f); err != nil {
		s.logger.Error("availability write failed", zap.String("faculty_id", f.ID), zap.Error(err))
		return
	}

	s.invalidateBoard(ctx)
	if f.EffectiveAvailability(now) != wasAvailable || update.Present {
		s.publishAvailability(*f)
	}

	if cameOnline && s.replayer != nil {
		if err := s.replayer.ResendActiveForFaculty(ctx, f.ID); err != nil {
			s.logger.Warn("replay of active consultations failed",
				zap.String("faculty_id", f.ID), zap.Error(err))
		}
	}
}

// ExpireGraceWindows clears lapsed grace windows and broadcasts the resulting
// unavailability, run periodically. The presence handler already cleared the
// available flag when it opened the window, so the sweep queries the grace
// columns directly rather than the availability filter.
func (s *FacultyService) ExpireGraceWindows(ctx context.Context) {
	now := time.Now().UTC()
	faculty, err := s.repo.ListLapsedGrace(ctx, now)
	if err != nil {
		s.logger.Warn("grace sweep list failed", zap.Error(err))
		return
	}
	for i := range faculty {
		f := faculty[i]
		f.InGracePeriod = false
		f.GraceUntil = nil
		f.Available = false
		if err := s.repo.UpdateAvailability(ctx, &f); err != nil {
			s.logger.Warn("grace expiry write failed", zap.String("faculty_id", f.ID), zap.Error(err))
			continue
		}
		s.logger.Info("grace window expired", zap.String("faculty_id", f.ID))
		s.publishAvailability(f)
	}
	if len(faculty) > 0 {
		s.invalidateBoard(ctx)
	}
}

func (s *FacultyService) publishAvailability(f models.Faculty) {
	if s.bus == nil {
		return
	}
	notice := AvailabilityNotice{
		FacultyID:  f.ID,
		Name:       f.Name,
		Department: f.Department,
		Available:  f.EffectiveAvailability(time.Now().UTC()),
		InGrace:    f.InGracePeriod,
		LastSeen:   f.LastSeen,
	}
	if err := s.bus.Send(s.topics.SystemNotifications(), notice); err != nil {
		s.logger.Warn("availability broadcast failed", zap.String("faculty_id", f.ID), zap.Error(err))
	}
}

func (s *FacultyService) invalidateBoard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Invalidate(ctx, "faculty:*")
}
