package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/analysis-engine/internal/models"
)

const testSecret = "test-secret"

func authRouter(handler gin.HandlerFunc) (*gin.Engine, *AuthMiddleware) {
	gin.SetMode(gin.TestMode)
	am := NewAuthMiddleware(testSecret)
	router := gin.New()
	router.GET("/required", am.RequireAuth(), handler)
	router.GET("/optional", am.OptionalAuth(), handler)
	return router, am
}

func identityEcho(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"user_id": c.GetString(ContextUserID),
		"tier":    c.GetString(ContextUserTier),
	})
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	router, _ := authRouter(identityEcho)

	req := httptest.NewRequest(http.MethodGet, "/required", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_MalformedHeader(t *testing.T) {
	router, _ := authRouter(identityEcho)

	req := httptest.NewRequest(http.MethodGet, "/required", nil)
	req.Header.Set("Authorization", "Token abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_ValidToken(t *testing.T) {
	router, am := authRouter(identityEcho)

	token, err := am.GenerateToken("user-42", models.TierPro, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/required", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user-42")
	assert.Contains(t, w.Body.String(), "pro")
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	router, am := authRouter(identityEcho)

	token, err := am.GenerateToken("user-42", models.TierPro, -time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/required", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "expired")
}

func TestOptionalAuth_AnonymousPasses(t *testing.T) {
	router, _ := authRouter(identityEcho)

	req := httptest.NewRequest(http.MethodGet, "/optional", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":""`)
}

func TestOptionalAuth_InvalidTokenStillPasses(t *testing.T) {
	router, _ := authRouter(identityEcho)

	req := httptest.NewRequest(http.MethodGet, "/optional", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":""`)
}

func TestOptionalAuth_ValidTokenSetsTier(t *testing.T) {
	router, am := authRouter(identityEcho)

	token, err := am.GenerateToken("ent-1", models.TierEnterprise, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/optional", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "enterprise")
}

func TestValidateToken_UnknownTierNormalizedOnUse(t *testing.T) {
	am := NewAuthMiddleware(testSecret)

	token, err := am.GenerateToken("user-1", models.Tier("platinum"), time.Hour)
	require.NoError(t, err)

	claims, err := am.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "platinum", claims.Tier)
	assert.Equal(t, models.TierFree, models.ParseTier(claims.Tier), "unknown tiers never grant extra quota")
}

func TestValidateToken_WrongSecretRejected(t *testing.T) {
	am := NewAuthMiddleware(testSecret)
	other := NewAuthMiddleware("different-secret")

	token, err := other.GenerateToken("user-1", models.TierFree, time.Hour)
	require.NoError(t, err)

	_, err = am.ValidateToken(token)
	assert.Error(t, err)
}
