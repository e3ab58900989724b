package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/consultease/central/internal/models"
	"github.com/consultease/central/internal/service"
)

type badgeRepoStub struct {
	students []models.Student
}

func (s *badgeRepoStub) ListAll(ctx context.Context) ([]models.Student, error) {
	return s.students, nil
}

func (s *badgeRepoStub) FindByBadgeUID(ctx context.Context, badgeUID string) (*models.Student, error) {
	for _, student := range s.students {
		if student.BadgeUID == badgeUID {
			out := student
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

func newBadgeHandler(t *testing.T, students ...models.Student) *BadgeHandler {
	t.Helper()
	svc := service.NewBadgeService(&badgeRepoStub{students: students}, zap.NewNop())
	require.NoError(t, svc.Refresh(context.Background()))
	return NewBadgeHandler(svc)
}

func TestBadgeLookupEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newBadgeHandler(t, models.Student{ID: "s1", Name: "Alice", BadgeUID: "04:A1"})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/badges/04:A1", nil)
	c.Params = gin.Params{{Key: "uid", Value: "04:A1"}}

	handler.Lookup(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Alice")
}

func TestBadgeLookupEndpointUnknown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newBadgeHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/badges/FF:FF", nil)
	c.Params = gin.Params{{Key: "uid", Value: "FF:FF"}}

	handler.Lookup(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBadgeReadEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newBadgeHandler(t, models.Student{ID: "s1", Name: "Alice", BadgeUID: "04:A1"})

	body, _ := json.Marshal(badgeReadRequest{BadgeUID: "04:A1"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/badges/read", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Read(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "04:A1")
}

func TestBadgeReadEndpointInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newBadgeHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/badges/read", bytes.NewReader([]byte(`invalid`)))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Read(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
