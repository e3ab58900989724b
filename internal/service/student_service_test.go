package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/consultease/central/internal/models"
	appErrors "github.com/consultease/central/pkg/errors"
)

type mockStudentRepo struct {
	store map[string]models.Student
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	var out []models.Student
	for _, s := range m.store {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.store[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = "s-new"
	}
	if m.store == nil {
		m.store = make(map[string]models.Student)
	}
	m.store[student.ID] = *student
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error {
	m.store[student.ID] = *student
	return nil
}

func (m *mockStudentRepo) Delete(ctx context.Context, id string) error {
	delete(m.store, id)
	return nil
}

type mockRefresher struct {
	calls int
}

func (m *mockRefresher) Refresh(ctx context.Context) error {
	m.calls++
	return nil
}

func TestStudentCreateRefreshesBadgeCache(t *testing.T) {
	repo := &mockStudentRepo{}
	badges := &mockRefresher{}
	svc := NewStudentService(repo, badges, nil, zap.NewNop())

	student, err := svc.Create(context.Background(), StudentRequest{
		Name: "Alice", Department: "Engineering", BadgeUID: "04:A1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, student.ID)
	assert.Equal(t, 1, badges.calls)
}

func TestStudentCreateRejectsMissingFields(t *testing.T) {
	svc := NewStudentService(&mockStudentRepo{}, nil, nil, zap.NewNop())

	_, err := svc.Create(context.Background(), StudentRequest{Name: "Alice"})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestStudentUpdateAndDelete(t *testing.T) {
	repo := &mockStudentRepo{store: map[string]models.Student{
		"s1": {ID: "s1", Name: "Alice", Department: "Engineering", BadgeUID: "04:A1"},
	}}
	badges := &mockRefresher{}
	svc := NewStudentService(repo, badges, nil, zap.NewNop())

	updated, err := svc.Update(context.Background(), "s1", StudentRequest{
		Name: "Alice", Department: "Mathematics", BadgeUID: "04:A2",
	})
	require.NoError(t, err)
	assert.Equal(t, "Mathematics", updated.Department)
	assert.Equal(t, "04:A2", repo.store["s1"].BadgeUID)

	require.NoError(t, svc.Delete(context.Background(), "s1"))
	assert.Empty(t, repo.store)
	assert.Equal(t, 2, badges.calls)
}

func TestStudentGetUnknown(t *testing.T) {
	svc := NewStudentService(&mockStudentRepo{}, nil, nil, zap.NewNop())

	_, err := svc.Get(context.Background(), "ghost")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
