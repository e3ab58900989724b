package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/consultease/central/internal/models"
	"github.com/consultease/central/internal/mqtt"
	"github.com/consultease/central/internal/repository"
	appErrors "github.com/consultease/central/pkg/errors"
)

type consultationRepository interface {
	List(ctx context.Context, filter models.ConsultationFilter) ([]models.ConsultationDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.ConsultationDetail, error)
	FindByIDExt(ctx context.Context, ext sqlx.ExtContext, id string) (*models.ConsultationDetail, error)
	ListActiveForFaculty(ctx context.Context, facultyID string) ([]models.ConsultationDetail, error)
	Create(ctx context.Context, ext sqlx.ExtContext, c *models.Consultation) error
	UpdateStatus(ctx context.Context, ext sqlx.ExtContext, c *models.Consultation) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type facultyReader interface {
	FindByID(ctx context.Context, id string) (*models.Faculty, error)
}

// messageBus is the slice of the broker connection the lifecycle engine
// publishes through.
type messageBus interface {
	Send(topic string, v any) error
	SendTracked(topic string, v any) error
	SendPlain(topic, message string) error
}

// ActorRole identifies who is driving a lifecycle transition.
type ActorRole string

const (
	ActorStudent  ActorRole = "student"
	ActorFaculty  ActorRole = "faculty"
	ActorOperator ActorRole = "operator"
)

// Actor is the authenticated party requesting a transition.
type Actor struct {
	Role ActorRole
	ID   string
}

// CreateConsultationRequest describes a new consultation submission.
type CreateConsultationRequest struct {
	StudentID  string  `json:"student_id" validate:"required"`
	FacultyID  string  `json:"faculty_id" validate:"required"`
	Message    string  `json:"message" validate:"required,max=500"`
	CourseCode *string `json:"course_code,omitempty" validate:"omitempty,max=20"`
}

// Course codes come from desk-unit keypads; anything outside this set is a
// transcription error.
var courseCodePattern = regexp.MustCompile(`^[a-zA-Z0-9 -]+$`)

// ConsultationNotice is the structured payload published to desk units and
// student identity units on every lifecycle change. Message carries a
// pre-rendered line so units without a JSON-capable display can still show
// something sensible.
type ConsultationNotice struct {
	Type              string                    `json:"type"`
	ID                string                    `json:"id"`
	StudentID         string                    `json:"student_id"`
	StudentName       string                    `json:"student_name"`
	StudentDepartment string                    `json:"student_department"`
	FacultyID         string                    `json:"faculty_id"`
	FacultyName       string                    `json:"faculty_name"`
	RequestMessage    string                    `json:"request_message"`
	CourseCode        *string                   `json:"course_code,omitempty"`
	Status            models.ConsultationStatus `json:"status"`
	RequestedAt       time.Time                 `json:"requested_at"`
	Message           string                    `json:"message"`
}

// ConsultationObserver is invoked after a lifecycle change commits.
type ConsultationObserver func(detail models.ConsultationDetail)

// allowedTransitions is the lifecycle table. NO_SHOW_* and ERROR are handled
// separately: an operator may force them from any non-terminal state.
var allowedTransitions = map[models.ConsultationStatus][]models.ConsultationStatus{
	models.StatusPending: {
		models.StatusAccepted, models.StatusRejected, models.StatusCancelledByStudent,
	},
	models.StatusAccepted: {
		models.StatusStarted, models.StatusRejected, models.StatusCancelledByFaculty,
		models.StatusCancelledByStudent,
	},
	models.StatusStarted: {
		models.StatusCompleted, models.StatusCancelledByFaculty,
	},
}

// operatorForced reports whether a status may only be reached through an
// explicit operator action.
func operatorForced(status models.ConsultationStatus) bool {
	switch status {
	case models.StatusError, models.StatusNoShowStudent, models.StatusNoShowFaculty:
		return true
	}
	return false
}

// ConsultationService orchestrates the consultation lifecycle: creation,
// authorized status transitions, and post-commit fan-out to devices.
type ConsultationService struct {
	db        *sqlx.DB
	repo      consultationRepository
	students  studentReader
	faculty   facultyReader
	bus       messageBus
	topics    mqtt.Topics
	validator *validator.Validate
	logger    *zap.Logger
	observers []ConsultationObserver
}

// NewConsultationService constructs a ConsultationService.
func NewConsultationService(db *sqlx.DB, repo consultationRepository, students studentReader, faculty facultyReader, bus messageBus, topics mqtt.Topics, validate *validator.Validate, logger *zap.Logger) *ConsultationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsultationService{
		db:        db,
		repo:      repo,
		students:  students,
		faculty:   faculty,
		bus:       bus,
		topics:    topics,
		validator: validate,
		logger:    logger,
	}
}

// RegisterObserver adds a post-commit listener. Observers must be registered
// during wiring, before the service handles traffic.
func (s *ConsultationService) RegisterObserver(fn ConsultationObserver) {
	s.observers = append(s.observers, fn)
}

// List returns consultations with pagination metadata.
func (s *ConsultationService) List(ctx context.Context, filter models.ConsultationFilter) ([]models.ConsultationDetail, *models.Pagination, error) {
	consultations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list consultations")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return consultations, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get fetches one consultation with joined display data.
func (s *ConsultationService) Get(ctx context.Context, id string) (*models.ConsultationDetail, error) {
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "consultation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load consultation")
	}
	return detail, nil
}

// Create submits a new consultation request and notifies the target desk
// unit once the row is committed.
func (s *ConsultationService) Create(ctx context.Context, req CreateConsultationRequest) (*models.ConsultationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid consultation payload")
	}
	if req.CourseCode != nil && *req.CourseCode != "" && !courseCodePattern.MatchString(*req.CourseCode) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course code contains invalid characters")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	fac, err := s.faculty.FindByID(ctx, req.FacultyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "faculty not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load faculty")
	}
	if !fac.EffectiveAvailability(time.Now().UTC()) {
		s.logger.Info("consultation requested for unavailable faculty",
			zap.String("faculty_id", fac.ID))
	}

	detail, err := repository.RunInTx(ctx, s.db, s.logger, func(tx *sqlx.Tx) (*models.ConsultationDetail, error) {
		c := &models.Consultation{
			StudentID:  req.StudentID,
			FacultyID:  req.FacultyID,
			Message:    req.Message,
			CourseCode: req.CourseCode,
		}
		if err := s.repo.Create(ctx, tx, c); err != nil {
			return nil, err
		}
		if c.ID == "" {
			return nil, appErrors.Clone(appErrors.ErrIntegrity, "consultation has no identity after insert")
		}

		reloaded, err := s.repo.FindByIDExt(ctx, tx, c.ID)
		if err != nil {
			s.logger.Warn("reload after create failed, returning stale row",
				zap.String("consultation_id", c.ID), zap.Error(err))
			return &models.ConsultationDetail{
				Consultation:      *c,
				StudentName:       student.Name,
				StudentDepartment: student.Department,
				FacultyName:       fac.Name,
			}, nil
		}
		return reloaded, nil
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create consultation")
	}

	s.fanOut("created", *detail, true)
	s.publishLegacyText(*detail)
	return detail, nil
}

// Transition moves a consultation to the target status on behalf of an
// actor, enforcing the lifecycle table and ownership. Requesting the current
// status is a no-op and returns the row unchanged.
func (s *ConsultationService) Transition(ctx context.Context, id string, target models.ConsultationStatus, actor Actor) (*models.ConsultationDetail, error) {
	detail, err := repository.RunInTx(ctx, s.db, s.logger, func(tx *sqlx.Tx) (*models.ConsultationDetail, error) {
		current, err := s.repo.FindByIDExt(ctx, tx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "consultation not found")
			}
			return nil, err
		}

		if current.Status == target {
			return current, nil
		}
		if err := validateTransition(current.Status, target); err != nil {
			return nil, err
		}
		if err := authorizeTransition(current.Consultation, target, actor); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		c := current.Consultation
		c.Status = target
		switch {
		case target == models.StatusAccepted:
			c.AcceptedAt = &now
		case target == models.StatusCompleted:
			c.CompletedAt = &now
		case target.Terminal():
			c.CompletedAt = &now
		}

		if err := s.repo.UpdateStatus(ctx, tx, &c); err != nil {
			return nil, err
		}

		reloaded, err := s.repo.FindByIDExt(ctx, tx, id)
		if err != nil {
			s.logger.Warn("reload after transition failed, returning stale row",
				zap.String("consultation_id", id), zap.Error(err))
			current.Consultation = c
			return current, nil
		}
		return reloaded, nil
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to transition consultation")
	}

	s.fanOut("status_changed", *detail, false)
	return detail, nil
}

// ResendActiveForFaculty replays every non-terminal request to a desk unit,
// used when its presence beacon comes back after an outage.
func (s *ConsultationService) ResendActiveForFaculty(ctx context.Context, facultyID string) error {
	active, err := s.repo.ListActiveForFaculty(ctx, facultyID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active consultations")
	}
	for _, detail := range active {
		notice := noticeFrom("replayed", detail)
		if err := s.bus.SendTracked(s.topics.FacultyRequests(facultyID), notice); err != nil {
			s.logger.Warn("replay publish failed",
				zap.String("consultation_id", detail.ID), zap.Error(err))
		}
	}
	return nil
}

func validateTransition(from, to models.ConsultationStatus) error {
	if operatorForced(to) {
		if from.Terminal() {
			return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot mark %s consultation as %s", from, to))
		}
		return nil
	}
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move consultation from %s to %s", from, to))
}

func authorizeTransition(c models.Consultation, target models.ConsultationStatus, actor Actor) error {
	if actor.Role == ActorOperator {
		return nil
	}
	if operatorForced(target) {
		return appErrors.Clone(appErrors.ErrNotOwner, "only an operator may perform this transition")
	}
	switch target {
	case models.StatusCancelledByStudent:
		if actor.Role == ActorStudent && actor.ID == c.StudentID {
			return nil
		}
		return appErrors.Clone(appErrors.ErrNotOwner, "only the requesting student may perform this transition")
	default:
		if actor.Role == ActorFaculty && actor.ID == c.FacultyID {
			return nil
		}
		return appErrors.Clone(appErrors.ErrNotOwner, "only the assigned faculty member may perform this transition")
	}
}

func noticeFrom(eventType string, detail models.ConsultationDetail) ConsultationNotice {
	return ConsultationNotice{
		Type:              eventType,
		ID:                detail.ID,
		StudentID:         detail.StudentID,
		StudentName:       detail.StudentName,
		StudentDepartment: detail.StudentDepartment,
		FacultyID:         detail.FacultyID,
		FacultyName:       detail.FacultyName,
		RequestMessage:    detail.Message,
		CourseCode:        detail.CourseCode,
		Status:            detail.Status,
		RequestedAt:       detail.RequestedAt,
		Message:           displayText(detail),
	}
}

// displayText renders the one-line form of a request used on character
// displays and the legacy plain-text topics.
func displayText(detail models.ConsultationDetail) string {
	text := fmt.Sprintf("Consultation request from %s (%s): %s",
		detail.StudentName, detail.StudentDepartment, detail.Message)
	if detail.CourseCode != nil && *detail.CourseCode != "" {
		text = fmt.Sprintf("%s [Course: %s]", text, *detail.CourseCode)
	}
	return text
}

// fanOut publishes a committed lifecycle change and invokes the registered
// observers. The subject's identity unit hears every change; the desk unit
// hears new requests only, so notifyFaculty is set on creation. Delivery is
// best effort; the transaction already committed and failures only get
// logged.
func (s *ConsultationService) fanOut(eventType string, detail models.ConsultationDetail, notifyFaculty bool) {
	notice := noticeFrom(eventType, detail)

	if notifyFaculty {
		if err := s.bus.SendTracked(s.topics.FacultyRequests(detail.FacultyID), notice); err != nil {
			s.logger.Warn("faculty notification failed",
				zap.String("consultation_id", detail.ID), zap.Error(err))
		}
	}
	if err := s.bus.Send(s.topics.StudentNotifications(detail.StudentID), notice); err != nil {
		s.logger.Warn("student notification failed",
			zap.String("consultation_id", detail.ID), zap.Error(err))
	}

	for _, observer := range s.observers {
		s.notifyObserver(observer, detail)
	}
}

// notifyObserver shields the fan-out from a panicking callback.
func (s *ConsultationService) notifyObserver(fn ConsultationObserver, detail models.ConsultationDetail) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("consultation observer panicked",
				zap.String("consultation_id", detail.ID), zap.Any("panic", r))
		}
	}()
	fn(detail)
}

// publishLegacyText mirrors a new request onto the plain-text topics older
// desk-unit firmware still renders.
func (s *ConsultationService) publishLegacyText(detail models.ConsultationDetail) {
	text := displayText(detail)
	if err := s.bus.SendPlain(mqtt.LegacyMessageTopic, text); err != nil {
		s.logger.Warn("legacy broadcast failed", zap.Error(err))
	}
	if err := s.bus.SendPlain(s.topics.FacultyMessages(detail.FacultyID), text); err != nil {
		s.logger.Warn("legacy faculty message failed", zap.Error(err))
	}
}
