package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/consultease/central/internal/models"
)

// ConsultationRepository manages persistence for consultation requests.
// Mutating methods accept an sqlx.ExtContext so callers can route them
// through a transaction.
type ConsultationRepository struct {
	db *sqlx.DB
}

// NewConsultationRepository constructs a ConsultationRepository.
func NewConsultationRepository(db *sqlx.DB) *ConsultationRepository {
	return &ConsultationRepository{db: db}
}

const consultationDetailQuery = `SELECT c.id, c.student_id, c.faculty_id, c.message, c.course_code, c.status,
        c.requested_at, c.accepted_at, c.completed_at,
        s.name AS student_name, s.department AS student_department, f.name AS faculty_name
        FROM consultations c
        JOIN students s ON s.id = c.student_id
        JOIN faculty f ON f.id = c.faculty_id`

// List returns consultations matching the provided filters with joined
// display data.
func (r *ConsultationRepository) List(ctx context.Context, filter models.ConsultationFilter) ([]models.ConsultationDetail, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("c.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.FacultyID != "" {
		conditions = append(conditions, fmt.Sprintf("c.faculty_id = $%d", len(args)+1))
		args = append(args, filter.FacultyID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("c.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	where := strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("%s WHERE %s ORDER BY c.requested_at DESC LIMIT %d OFFSET %d",
		consultationDetailQuery, where, size, offset)

	var consultations []models.ConsultationDetail
	if err := r.db.SelectContext(ctx, &consultations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list consultations: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM consultations c WHERE %s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count consultations: %w", err)
	}
	return consultations, total, nil
}

// FindByID fetches a consultation with joined display data.
func (r *ConsultationRepository) FindByID(ctx context.Context, id string) (*models.ConsultationDetail, error) {
	return r.FindByIDExt(ctx, r.db, id)
}

// FindByIDExt is FindByID routed through an explicit executor, used to
// reload a row inside the transaction that mutated it.
func (r *ConsultationRepository) FindByIDExt(ctx context.Context, ext sqlx.ExtContext, id string) (*models.ConsultationDetail, error) {
	query := consultationDetailQuery + " WHERE c.id = $1"
	var detail models.ConsultationDetail
	if err := sqlx.GetContext(ctx, ext, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListActiveForFaculty returns the non-terminal requests queued for one
// faculty member, oldest first, used when a desk unit reconnects.
func (r *ConsultationRepository) ListActiveForFaculty(ctx context.Context, facultyID string) ([]models.ConsultationDetail, error) {
	query := consultationDetailQuery + ` WHERE c.faculty_id = $1 AND c.status IN ($2, $3, $4)
        ORDER BY c.requested_at ASC`
	var consultations []models.ConsultationDetail
	err := r.db.SelectContext(ctx, &consultations, query, facultyID,
		models.StatusPending, models.StatusAccepted, models.StatusStarted)
	if err != nil {
		return nil, fmt.Errorf("list active consultations: %w", err)
	}
	return consultations, nil
}

// Create inserts a new consultation request.
func (r *ConsultationRepository) Create(ctx context.Context, ext sqlx.ExtContext, c *models.Consultation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.StatusPending
	}
	if c.RequestedAt.IsZero() {
		c.RequestedAt = time.Now().UTC()
	}
	const query = `INSERT INTO consultations (id, student_id, faculty_id, message, course_code, status, requested_at)
        VALUES (:id, :student_id, :faculty_id, :message, :course_code, :status, :requested_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, c); err != nil {
		return fmt.Errorf("create consultation: %w", err)
	}
	return nil
}

// UpdateStatus writes a status transition and its lifecycle timestamps.
func (r *ConsultationRepository) UpdateStatus(ctx context.Context, ext sqlx.ExtContext, c *models.Consultation) error {
	const query = `UPDATE consultations SET status = :status, accepted_at = :accepted_at, completed_at = :completed_at WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, ext, query, c)
	if err != nil {
		return fmt.Errorf("update consultation status: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("update consultation status: no row for id %s", c.ID)
	}
	return nil
}

// CountByStatus aggregates consultations per lifecycle state.
func (r *ConsultationRepository) CountByStatus(ctx context.Context) (map[models.ConsultationStatus]int, error) {
	const query = `SELECT status, COUNT(*) AS total FROM consultations GROUP BY status`
	rows := []struct {
		Status models.ConsultationStatus `db:"status"`
		Total  int                       `db:"total"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count consultations by status: %w", err)
	}
	counts := make(map[models.ConsultationStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
