package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignParseRoundTrip(t *testing.T) {
	svc := TokenService{Secret: []byte("s3cret"), Issuer: "annothub", Duration: time.Hour}

	token, exp, err := svc.Sign("u1", "alice")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := svc.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "annothub", claims.Issuer)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	issuer := TokenService{Secret: []byte("right"), Issuer: "annothub", Duration: time.Hour}
	verifier := TokenService{Secret: []byte("wrong"), Issuer: "annothub", Duration: time.Hour}

	token, _, err := issuer.Sign("u1", "alice")
	require.NoError(t, err)

	_, err = verifier.Parse(token)
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	svc := TokenService{Secret: []byte("s3cret"), Issuer: "annothub", Duration: -time.Minute}

	token, _, err := svc.Sign("u1", "alice")
	require.NoError(t, err)

	_, err = svc.Parse(token)
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := TokenService{Secret: []byte("s3cret"), Issuer: "annothub", Duration: time.Hour}

	router := gin.New()
	router.GET("/me", AuthMiddleware(svc), func(c *gin.Context) {
		claims := MustGetClaims(c)
		c.JSON(http.StatusOK, gin.H{"id": claims.UserID})
	})

	// no header
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// garbage token
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer nonsense")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// valid token
	token, _, err := svc.Sign("u1", "alice")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "u1")
}
