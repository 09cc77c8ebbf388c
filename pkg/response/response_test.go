package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupcare/backend/internal/apperr"
)

func TestError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err      error
		status   int
		kind     apperr.Kind
		redacted bool
	}{
		{apperr.ErrNotFound, http.StatusNotFound, apperr.KindNotFound, false},
		{fmt.Errorf("enroll: %w", apperr.ErrFull), http.StatusConflict, apperr.KindFull, false},
		{apperr.ErrTooLate, http.StatusConflict, apperr.KindTooLate, false},
		{apperr.ErrNotEligible, http.StatusForbidden, apperr.KindNotEligible, false},
		{apperr.ErrUnauthorized, http.StatusForbidden, apperr.KindUnauthorized, false},
		{errors.New("pq: password authentication failed"), http.StatusInternalServerError, apperr.KindInternal, true},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			Error(c, tc.err)

			assert.Equal(t, tc.status, w.Code)
			var body Body
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tc.kind, body.ErrorKind)
			if tc.redacted {
				assert.Equal(t, "internal error", body.Error)
			}
		})
	}
}
