package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupcare/backend/internal/auth"
	"github.com/groupcare/backend/internal/models"
)

func do(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := auth.NewJWTService("test-secret", 1)
	uid := uuid.New()

	r := gin.New()
	r.GET("/me", JWT(svc), func(c *gin.Context) {
		a := Actor(c)
		c.JSON(http.StatusOK, gin.H{"id": a.UserID.String(), "role": string(a.Role)})
	})

	t.Run("missing header", func(t *testing.T) {
		w := do(r, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Basic abc")
		assert.Equal(t, http.StatusUnauthorized, do(r, req).Code)
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		assert.Equal(t, http.StatusUnauthorized, do(r, req).Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := svc.Generate(uid, models.RoleTherapist)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := do(r, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), uid.String())
		assert.Contains(t, w.Body.String(), "therapist")
	})
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	withRole := func(role models.Role) gin.HandlerFunc {
		return func(c *gin.Context) {
			SetActor(c, models.Actor{UserID: uuid.New(), Role: role})
			c.Next()
		}
	}
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	r := gin.New()
	r.GET("/patient", withRole(models.RolePatient), RequireRole(models.RoleTherapist, models.RoleAdmin), ok)
	r.GET("/admin", withRole(models.RoleAdmin), RequireRole(models.RoleTherapist, models.RoleAdmin), ok)
	r.GET("/anon", RequireRole(models.RoleAdmin), ok)

	assert.Equal(t, http.StatusForbidden, do(r, httptest.NewRequest(http.MethodGet, "/patient", nil)).Code)
	assert.Equal(t, http.StatusNoContent, do(r, httptest.NewRequest(http.MethodGet, "/admin", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, httptest.NewRequest(http.MethodGet, "/anon", nil)).Code)
}

func TestSharedSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	r := gin.New()
	r.POST("/sweep", SharedSecret("topsecret"), ok)
	r.POST("/open", SharedSecret(""), ok)

	req := httptest.NewRequest(http.MethodPost, "/sweep", nil)
	assert.Equal(t, http.StatusUnauthorized, do(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/sweep", nil)
	req.Header.Set(SweepSecretHeader, "nope")
	assert.Equal(t, http.StatusUnauthorized, do(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/sweep", nil)
	req.Header.Set(SweepSecretHeader, "topsecret")
	assert.Equal(t, http.StatusNoContent, do(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/open", nil)
	req.Header.Set(SweepSecretHeader, "")
	assert.Equal(t, http.StatusUnauthorized, do(r, req).Code, "empty secret rejects everything")
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://app.example.com"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := do(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, do(r, req).Code)
}
