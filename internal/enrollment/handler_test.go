package enrollment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupcare/backend/internal/apperr"
	"github.com/groupcare/backend/internal/enrollment"
	"github.com/groupcare/backend/internal/middleware"
	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/pkg/response"
)

func handlerRouter(svc *enrollment.Service, actor models.Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := enrollment.NewHandler(svc)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		middleware.SetActor(c, actor)
		c.Next()
	})
	r.POST("/sessions/:id/enroll", h.Enroll)
	r.DELETE("/sessions/:id/enroll", h.Cancel)
	r.GET("/sessions/:id/enrollment", h.Status)
	r.GET("/sessions/:id/participants", h.ListParticipants)
	return r
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Body {
	t.Helper()
	var body response.Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandler_EnrollThenFull(t *testing.T) {
	svc, _, s := setup(1, now.Add(48*time.Hour))

	w := httptest.NewRecorder()
	handlerRouter(svc, patient()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/"+s.ID.String()+"/enroll", nil))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	handlerRouter(svc, patient()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/"+s.ID.String()+"/enroll", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperr.KindFull, decode(t, w).ErrorKind)
}

func TestHandler_InvalidID(t *testing.T) {
	svc, _, _ := setup(1, now.Add(48*time.Hour))
	w := httptest.NewRecorder()
	handlerRouter(svc, patient()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/nope/enroll", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CancelTooLate(t *testing.T) {
	svc, _, s := setup(3, now.Add(2*time.Hour))
	p := patient()
	_, err := svc.Enroll(context.Background(), p, s.ID)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	handlerRouter(svc, p).ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/sessions/"+s.ID.String()+"/enroll", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperr.KindTooLate, decode(t, w).ErrorKind)
}

func TestHandler_StatusOfOtherUserNeedsOwner(t *testing.T) {
	svc, _, s := setup(3, now.Add(48*time.Hour))
	other := uuid.New().String()

	w := httptest.NewRecorder()
	handlerRouter(svc, patient()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+s.ID.String()+"/enrollment?user_id="+other, nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	owner := models.Actor{UserID: s.TherapistID, Role: models.RoleTherapist}
	w = httptest.NewRecorder()
	handlerRouter(svc, owner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+s.ID.String()+"/enrollment?user_id="+other, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_ParticipantsRequiresOwner(t *testing.T) {
	svc, _, s := setup(3, now.Add(48*time.Hour))

	w := httptest.NewRecorder()
	handlerRouter(svc, patient()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+s.ID.String()+"/participants", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := models.Actor{UserID: uuid.New(), Role: models.RoleAdmin}
	w = httptest.NewRecorder()
	handlerRouter(svc, admin).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+s.ID.String()+"/participants", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
