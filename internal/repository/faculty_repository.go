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

// FacultyRepository manages persistence for faculty records, including the
// availability state driven by desk-unit presence signals.
type FacultyRepository struct {
	db *sqlx.DB
}

// NewFacultyRepository constructs a FacultyRepository.
func NewFacultyRepository(db *sqlx.DB) *FacultyRepository {
	return &FacultyRepository{db: db}
}

const facultyColumns = `id, name, department, email, beacon_id, available, always_available, in_grace_period, grace_until, last_seen, created_at, updated_at`

// List returns faculty matching the provided filters.
func (r *FacultyRepository) List(ctx context.Context, filter models.FacultyFilter) ([]models.Faculty, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filter.Available != nil {
		// Effective availability, not the raw column: an unexpired grace
		// window holds a faculty member on the board even though the
		// presence handler already cleared the available flag.
		conditions = append(conditions, fmt.Sprintf(
			"(available OR always_available OR (in_grace_period AND grace_until > $%d)) = $%d",
			len(args)+1, len(args)+2))
		args = append(args, time.Now().UTC(), *filter.Available)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(department) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
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

	query := fmt.Sprintf(`SELECT %s FROM faculty WHERE %s ORDER BY name ASC LIMIT %d OFFSET %d`,
		facultyColumns, where, size, offset)

	var faculty []models.Faculty
	if err := r.db.SelectContext(ctx, &faculty, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list faculty: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM faculty WHERE %s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count faculty: %w", err)
	}
	return faculty, total, nil
}

// ListLapsedGrace returns faculty whose grace window has expired as of now,
// so the periodic sweep can clear the flags and broadcast the change.
func (r *FacultyRepository) ListLapsedGrace(ctx context.Context, now time.Time) ([]models.Faculty, error) {
	query := fmt.Sprintf(`SELECT %s FROM faculty WHERE in_grace_period = true AND grace_until IS NOT NULL AND grace_until <= $1 ORDER BY grace_until ASC`,
		facultyColumns)
	var faculty []models.Faculty
	if err := r.db.SelectContext(ctx, &faculty, query, now); err != nil {
		return nil, fmt.Errorf("list lapsed grace windows: %w", err)
	}
	return faculty, nil
}

// FindByID fetches a faculty member by ID.
func (r *FacultyRepository) FindByID(ctx context.Context, id string) (*models.Faculty, error) {
	query := fmt.Sprintf(`SELECT %s FROM faculty WHERE id = $1`, facultyColumns)
	var f models.Faculty
	if err := r.db.GetContext(ctx, &f, query, id); err != nil {
		return nil, err
	}
	return &f, nil
}

// FindByBeaconID fetches a faculty member by their wireless beacon identifier.
func (r *FacultyRepository) FindByBeaconID(ctx context.Context, beaconID string) (*models.Faculty, error) {
	query := fmt.Sprintf(`SELECT %s FROM faculty WHERE beacon_id = $1`, facultyColumns)
	var f models.Faculty
	if err := r.db.GetContext(ctx, &f, query, beaconID); err != nil {
		return nil, err
	}
	return &f, nil
}

// ExistsByEmail reports whether another faculty record already uses the email.
func (r *FacultyRepository) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM faculty WHERE LOWER(email) = LOWER($1) AND id != $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, email, excludeID); err != nil {
		return false, fmt.Errorf("check faculty email: %w", err)
	}
	return count > 0, nil
}

// ExistsByBeaconID reports whether another faculty record already uses the
// beacon identifier.
func (r *FacultyRepository) ExistsByBeaconID(ctx context.Context, beaconID, excludeID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM faculty WHERE beacon_id = $1 AND id != $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, beaconID, excludeID); err != nil {
		return false, fmt.Errorf("check faculty beacon: %w", err)
	}
	return count > 0, nil
}

// Create inserts a new faculty record.
func (r *FacultyRepository) Create(ctx context.Context, f *models.Faculty) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	const query = `INSERT INTO faculty (id, name, department, email, beacon_id, available, always_available, in_grace_period, grace_until, last_seen, created_at, updated_at)
        VALUES (:id, :name, :department, :email, :beacon_id, :available, :always_available, :in_grace_period, :grace_until, :last_seen, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, f); err != nil {
		return fmt.Errorf("create faculty: %w", err)
	}
	return nil
}

// Update modifies an existing faculty record.
func (r *FacultyRepository) Update(ctx context.Context, f *models.Faculty) error {
	f.UpdatedAt = time.Now().UTC()
	const query = `UPDATE faculty SET name = :name, department = :department, email = :email, beacon_id = :beacon_id,
        available = :available, always_available = :always_available, in_grace_period = :in_grace_period,
        grace_until = :grace_until, last_seen = :last_seen, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, f); err != nil {
		return fmt.Errorf("update faculty: %w", err)
	}
	return nil
}

// UpdateAvailability writes the availability snapshot derived from a presence
// signal without touching profile fields.
func (r *FacultyRepository) UpdateAvailability(ctx context.Context, f *models.Faculty) error {
	f.UpdatedAt = time.Now().UTC()
	const query = `UPDATE faculty SET available = :available, in_grace_period = :in_grace_period,
        grace_until = :grace_until, last_seen = :last_seen, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, f); err != nil {
		return fmt.Errorf("update faculty availability: %w", err)
	}
	return nil
}

// MarkAllUnavailable clears availability for every faculty member that is not
// pinned always-available, used at startup before retained presence replays.
func (r *FacultyRepository) MarkAllUnavailable(ctx context.Context) error {
	const query = `UPDATE faculty SET available = false, in_grace_period = false, grace_until = NULL, updated_at = $1
        WHERE always_available = false`
	if _, err := r.db.ExecContext(ctx, query, time.Now().UTC()); err != nil {
		return fmt.Errorf("reset faculty availability: %w", err)
	}
	return nil
}

// Delete removes a faculty record.
func (r *FacultyRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM faculty WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete faculty: %w", err)
	}
	return nil
}
