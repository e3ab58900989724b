package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/consultease/central/internal/models"
	"github.com/consultease/central/internal/mqtt"
	appErrors "github.com/consultease/central/pkg/errors"
)

type mockFacultyRepo struct {
	store            map[string]models.Faculty
	byBeacon         map[string]string
	availabilitySets int
	resetCalled      bool
}

func (m *mockFacultyRepo) List(ctx context.Context, filter models.FacultyFilter) ([]models.Faculty, int, error) {
	var out []models.Faculty
	for _, f := range m.store {
		out = append(out, f)
	}
	return out, len(out), nil
}

func (m *mockFacultyRepo) ListLapsedGrace(ctx context.Context, now time.Time) ([]models.Faculty, error) {
	var out []models.Faculty
	for _, f := range m.store {
		if f.InGracePeriod && f.GraceUntil != nil && !now.Before(*f.GraceUntil) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *mockFacultyRepo) FindByID(ctx context.Context, id string) (*models.Faculty, error) {
	if f, ok := m.store[id]; ok {
		return &f, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockFacultyRepo) FindByBeaconID(ctx context.Context, beaconID string) (*models.Faculty, error) {
	if id, ok := m.byBeacon[beaconID]; ok {
		return m.FindByID(ctx, id)
	}
	return nil, sql.ErrNoRows
}

func (m *mockFacultyRepo) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	for id, f := range m.store {
		if id != excludeID && f.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockFacultyRepo) ExistsByBeaconID(ctx context.Context, beaconID, excludeID string) (bool, error) {
	for id, f := range m.store {
		if id != excludeID && f.BeaconID == beaconID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockFacultyRepo) Create(ctx context.Context, f *models.Faculty) error {
	if f.ID == "" {
		f.ID = "f-new"
	}
	if m.store == nil {
		m.store = make(map[string]models.Faculty)
	}
	m.store[f.ID] = *f
	return nil
}

func (m *mockFacultyRepo) Update(ctx context.Context, f *models.Faculty) error {
	m.store[f.ID] = *f
	return nil
}

func (m *mockFacultyRepo) UpdateAvailability(ctx context.Context, f *models.Faculty) error {
	m.availabilitySets++
	m.store[f.ID] = *f
	return nil
}

func (m *mockFacultyRepo) MarkAllUnavailable(ctx context.Context) error {
	m.resetCalled = true
	for id, f := range m.store {
		if f.AlwaysAvailable {
			continue
		}
		f.Available = false
		f.InGracePeriod = false
		f.GraceUntil = nil
		m.store[id] = f
	}
	return nil
}

func (m *mockFacultyRepo) Delete(ctx context.Context, id string) error {
	delete(m.store, id)
	return nil
}

type mockReplayer struct {
	replayed []string
}

func (m *mockReplayer) ResendActiveForFaculty(ctx context.Context, facultyID string) error {
	m.replayed = append(m.replayed, facultyID)
	return nil
}

func newFacultyFixture(f models.Faculty) (*FacultyService, *mockFacultyRepo, *mockBus, *mockReplayer) {
	repo := &mockFacultyRepo{store: map[string]models.Faculty{f.ID: f}, byBeacon: map[string]string{}}
	if f.BeaconID != "" {
		repo.byBeacon[f.BeaconID] = f.ID
	}
	bus := &mockBus{}
	replayer := &mockReplayer{}
	svc := NewFacultyService(repo, replayer, bus, nil, mqtt.NewTopics("consultease"), time.Minute, nil, zap.NewNop())
	return svc, repo, bus, replayer
}

func TestHandlePresenceMarksAvailableAndReplays(t *testing.T) {
	svc, repo, bus, replayer := newFacultyFixture(models.Faculty{ID: "f1", Name: "Dr. Reyes"})

	svc.HandlePresence("consultease/faculty/f1/status", []byte(`{"present": true}`))

	f := repo.store["f1"]
	assert.True(t, f.Available)
	assert.False(t, f.InGracePeriod)
	require.NotNil(t, f.LastSeen)
	assert.Equal(t, []string{"f1"}, replayer.replayed)
	assert.Equal(t, []string{"consultease/system/notifications"}, bus.topicsByKind("send"))
}

func TestHandlePresenceOfflineOpensGraceWindow(t *testing.T) {
	svc, repo, _, replayer := newFacultyFixture(models.Faculty{ID: "f1", Available: true})

	svc.HandlePresence("consultease/faculty/f1/status", []byte(`{"present": false}`))

	f := repo.store["f1"]
	assert.False(t, f.Available)
	assert.True(t, f.InGracePeriod)
	require.NotNil(t, f.GraceUntil)
	assert.True(t, f.GraceUntil.After(time.Now().UTC().Add(50*time.Second)))
	assert.True(t, f.EffectiveAvailability(time.Now().UTC()))
	assert.Empty(t, replayer.replayed)
}

func TestHandlePresenceDeviceGraceOverridesDefault(t *testing.T) {
	svc, repo, _, _ := newFacultyFixture(models.Faculty{ID: "f1", Available: true})

	svc.HandlePresence("consultease/faculty/f1/status",
		[]byte(`{"present": false, "in_grace_period": true, "grace_period_remaining": 5000}`))

	f := repo.store["f1"]
	require.NotNil(t, f.GraceUntil)
	assert.True(t, f.GraceUntil.Before(time.Now().UTC().Add(10*time.Second)))
}

func TestHandlePresenceAlwaysAvailableOverrides(t *testing.T) {
	svc, repo, _, _ := newFacultyFixture(models.Faculty{ID: "f1", Available: true, AlwaysAvailable: true})

	svc.HandlePresence("consultease/faculty/f1/status", []byte(`{"present": false}`))

	f := repo.store["f1"]
	assert.True(t, f.Available)
	assert.False(t, f.InGracePeriod)
	assert.True(t, f.EffectiveAvailability(time.Now().UTC()))
}

func TestHandlePresenceLegacyTopicViaBeacon(t *testing.T) {
	svc, repo, _, _ := newFacultyFixture(models.Faculty{ID: "f1", BeaconID: "AA:BB"})

	svc.HandlePresence(mqtt.LegacyStatusTopic, []byte(`{"available": true, "beacon_id": "AA:BB"}`))

	assert.True(t, repo.store["f1"].Available)
}

func TestHandlePresenceUnknownFacultyIgnored(t *testing.T) {
	svc, repo, _, _ := newFacultyFixture(models.Faculty{ID: "f1"})

	svc.HandlePresence("consultease/faculty/ghost/status", []byte(`{"present": true}`))

	assert.Zero(t, repo.availabilitySets)
}

func TestExpireGraceWindows(t *testing.T) {
	svc, repo, bus, _ := newFacultyFixture(models.Faculty{ID: "f1", Available: true})

	// Going offline opens the window and clears the available flag; the
	// sweep must still find the record once the window lapses.
	svc.HandlePresence("consultease/faculty/f1/status", []byte(`{"present": false}`))
	f := repo.store["f1"]
	require.False(t, f.Available)
	require.True(t, f.InGracePeriod)
	past := time.Now().UTC().Add(-time.Second)
	f.GraceUntil = &past
	repo.store["f1"] = f

	svc.ExpireGraceWindows(context.Background())

	f = repo.store["f1"]
	assert.False(t, f.Available)
	assert.False(t, f.InGracePeriod)
	assert.Nil(t, f.GraceUntil)
	assert.Equal(t, 2, repo.availabilitySets)
	assert.Equal(t, []string{"consultease/system/notifications"}, bus.topicsByKind("send"))
}

func TestExpireGraceWindowsLeavesOpenWindow(t *testing.T) {
	future := time.Now().UTC().Add(time.Minute)
	svc, repo, bus, _ := newFacultyFixture(models.Faculty{
		ID: "f1", InGracePeriod: true, GraceUntil: &future,
	})

	svc.ExpireGraceWindows(context.Background())

	f := repo.store["f1"]
	assert.True(t, f.InGracePeriod)
	assert.NotNil(t, f.GraceUntil)
	assert.Zero(t, repo.availabilitySets)
	assert.Empty(t, bus.topicsByKind("send"))
}

func TestFacultyCreateRejectsDuplicateEmail(t *testing.T) {
	svc, _, _, _ := newFacultyFixture(models.Faculty{ID: "f1", Email: "reyes@example.edu", BeaconID: "AA:BB"})

	_, err := svc.Create(context.Background(), FacultyRequest{
		Name: "Other", Department: "CS", Email: "reyes@example.edu",
	})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)

	_, err = svc.Create(context.Background(), FacultyRequest{
		Name: "Other", Department: "CS", Email: "other@example.edu", BeaconID: "AA:BB",
	})
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestFacultyUpdateAllowsOwnEmail(t *testing.T) {
	svc, repo, _, _ := newFacultyFixture(models.Faculty{
		ID: "f1", Name: "Dr. Reyes", Department: "CS", Email: "reyes@example.edu",
	})

	updated, err := svc.Update(context.Background(), "f1", FacultyRequest{
		Name: "Dr. Reyes", Department: "Mathematics", Email: "reyes@example.edu",
	})
	require.NoError(t, err)
	assert.Equal(t, "Mathematics", updated.Department)
	assert.Equal(t, "Mathematics", repo.store["f1"].Department)
}

func TestResetAvailabilitySkipsAlwaysAvailable(t *testing.T) {
	repo := &mockFacultyRepo{store: map[string]models.Faculty{
		"f1": {ID: "f1", Available: true},
		"f2": {ID: "f2", Available: true, AlwaysAvailable: true},
	}}
	svc := NewFacultyService(repo, nil, nil, nil, mqtt.NewTopics("consultease"), time.Minute, nil, zap.NewNop())

	require.NoError(t, svc.ResetAvailability(context.Background()))
	assert.True(t, repo.resetCalled)
	assert.False(t, repo.store["f1"].Available)
	assert.True(t, repo.store["f2"].Available)
}
