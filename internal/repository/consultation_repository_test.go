package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultease/central/internal/models"
)

func consultationDetailRows(status models.ConsultationStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "student_id", "faculty_id", "message", "course_code", "status",
		"requested_at", "accepted_at", "completed_at", "student_name", "student_department", "faculty_name"}).
		AddRow("c1", "s1", "f1", "Need help with thesis", nil, status, time.Now(), nil, nil, "Alice", "Engineering", "Dr. Reyes")
}

func TestConsultationRepositoryListByFaculty(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewConsultationRepository(db)

	mock.ExpectQuery("SELECT c.id, c.student_id, c.faculty_id").
		WithArgs("f1").
		WillReturnRows(consultationDetailRows(models.StatusPending))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	consultations, total, err := repo.List(context.Background(), models.ConsultationFilter{FacultyID: "f1"})
	require.NoError(t, err)
	assert.Len(t, consultations, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Alice", consultations[0].StudentName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsultationRepositoryCreateDefaultsStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewConsultationRepository(db)

	mock.ExpectExec("INSERT INTO consultations").
		WithArgs(sqlmock.AnyArg(), "s1", "f1", "Need help", nil, string(models.StatusPending), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	c := &models.Consultation{StudentID: "s1", FacultyID: "f1", Message: "Need help"}
	require.NoError(t, repo.Create(context.Background(), db, c))
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, models.StatusPending, c.Status)
	assert.False(t, c.RequestedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsultationRepositoryUpdateStatusMissingRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewConsultationRepository(db)

	mock.ExpectExec("UPDATE consultations SET status").
		WithArgs(string(models.StatusAccepted), sqlmock.AnyArg(), sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), db, &models.Consultation{ID: "missing", Status: models.StatusAccepted})
	assert.Error(t, err)
}

func TestConsultationRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewConsultationRepository(db)

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"status", "total"}).
			AddRow(string(models.StatusPending), 2).
			AddRow(string(models.StatusCompleted), 5))

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.StatusPending])
	assert.Equal(t, 5, counts[models.StatusCompleted])
}
