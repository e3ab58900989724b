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

type mockBadgeRepo struct {
	students    []models.Student
	lookups     int
	listFailure error
}

func (m *mockBadgeRepo) ListAll(ctx context.Context) ([]models.Student, error) {
	if m.listFailure != nil {
		return nil, m.listFailure
	}
	return m.students, nil
}

func (m *mockBadgeRepo) FindByBadgeUID(ctx context.Context, badgeUID string) (*models.Student, error) {
	m.lookups++
	for _, s := range m.students {
		if s.BadgeUID == badgeUID {
			out := s
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

func TestBadgeLookupExactHit(t *testing.T) {
	repo := &mockBadgeRepo{students: []models.Student{
		{ID: "s1", Name: "Alice", BadgeUID: "04:A1:B2"},
	}}
	svc := NewBadgeService(repo, zap.NewNop())
	require.NoError(t, svc.Refresh(context.Background()))

	student, err := svc.Lookup(context.Background(), "04:A1:B2")
	require.NoError(t, err)
	assert.Equal(t, "Alice", student.Name)
	assert.Zero(t, repo.lookups)
}

func TestBadgeLookupCaseInsensitive(t *testing.T) {
	repo := &mockBadgeRepo{students: []models.Student{
		{ID: "s1", Name: "Alice", BadgeUID: "04:a1:b2"},
	}}
	svc := NewBadgeService(repo, zap.NewNop())
	require.NoError(t, svc.Refresh(context.Background()))

	student, err := svc.Lookup(context.Background(), "04:A1:B2")
	require.NoError(t, err)
	assert.Equal(t, "Alice", student.Name)
	assert.Zero(t, repo.lookups)
}

func TestBadgeLookupFallsBackToDatabase(t *testing.T) {
	repo := &mockBadgeRepo{}
	svc := NewBadgeService(repo, zap.NewNop())
	require.NoError(t, svc.Refresh(context.Background()))

	// Badge registered after the refresh.
	repo.students = []models.Student{{ID: "s2", Name: "Bob", BadgeUID: "05:FF"}}

	student, err := svc.Lookup(context.Background(), "05:FF")
	require.NoError(t, err)
	assert.Equal(t, "Bob", student.Name)
	assert.Equal(t, 1, repo.lookups)

	// Second lookup is served from cache.
	_, err = svc.Lookup(context.Background(), "05:FF")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.lookups)
}

func TestBadgeLookupUnknown(t *testing.T) {
	svc := NewBadgeService(&mockBadgeRepo{}, zap.NewNop())

	student, err := svc.Lookup(context.Background(), "no-such-badge")
	require.NoError(t, err)
	assert.Nil(t, student)

	_, err = svc.Lookup(context.Background(), "")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestBadgeReadCallbacks(t *testing.T) {
	repo := &mockBadgeRepo{students: []models.Student{
		{ID: "s1", Name: "Alice", BadgeUID: "04:A1"},
	}}
	svc := NewBadgeService(repo, zap.NewNop())
	require.NoError(t, svc.Refresh(context.Background()))

	var seen []string
	svc.OnBadgeRead(func(*models.Student, string) { panic("boom") })
	svc.OnBadgeRead(func(student *models.Student, uid string) {
		if student != nil {
			seen = append(seen, student.ID+"/"+uid)
		} else {
			seen = append(seen, "none/"+uid)
		}
	})

	student, err := svc.HandleBadgeRead(context.Background(), "04:A1")
	require.NoError(t, err)
	require.NotNil(t, student)

	// Unregistered badges still notify callbacks.
	student, err = svc.HandleBadgeRead(context.Background(), "FF:FF")
	require.NoError(t, err)
	assert.Nil(t, student)

	assert.Equal(t, []string{"s1/04:A1", "none/FF:FF"}, seen)
}

func TestBadgeRefreshReplacesCache(t *testing.T) {
	repo := &mockBadgeRepo{students: []models.Student{
		{ID: "s1", Name: "Alice", BadgeUID: "04:A1"},
		{ID: "s2", Name: "Bob", BadgeUID: ""},
	}}
	svc := NewBadgeService(repo, zap.NewNop())
	require.NoError(t, svc.Refresh(context.Background()))
	assert.Equal(t, 1, svc.Size())

	repo.students = []models.Student{{ID: "s3", Name: "Cara", BadgeUID: "06:AA"}}
	require.NoError(t, svc.Refresh(context.Background()))
	assert.Equal(t, 1, svc.Size())

	_, err := svc.Lookup(context.Background(), "06:AA")
	assert.NoError(t, err)
}
