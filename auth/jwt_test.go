package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	a, err := New(Options{
		Logger:        zap.NewNop(),
		JWTSigningKey: "super-secret-signing-key",
		Environment:   EnvDevelopment,
	})
	require.NoError(t, err)
	return a
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{
		Logger:        zap.NewNop(),
		JWTSigningKey: "too-short",
	})
	require.Error(t, err)

	_, err = New(Options{
		JWTSigningKey: "super-secret-signing-key",
	})
	require.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	a := newTestAuth(t)

	token, err := a.CreateTokenFromClaims(Claims{
		UserID:         "user_1",
		OrganizationID: "org_1",
		Email:          "user@example.com",
		Admin:          true,
	})
	require.NoError(t, err)

	claims, err := a.verifyToken(token)
	require.NoError(t, err)
	require.NotNil(t, claims)
	require.Equal(t, "user_1", claims.UserID)
	require.Equal(t, "org_1", claims.OrganizationID)
	require.True(t, claims.Admin)
}

func TestVerifyTokenRejectsTampering(t *testing.T) {
	a := newTestAuth(t)
	other, err := New(Options{
		Logger:        zap.NewNop(),
		JWTSigningKey: "a-different-signing-key!",
		Environment:   EnvDevelopment,
	})
	require.NoError(t, err)

	token, err := other.CreateTokenFromClaims(Claims{UserID: "user_1"})
	require.NoError(t, err)

	claims, err := a.verifyToken(token)
	require.NoError(t, err)
	require.Nil(t, claims)

	claims, err = a.verifyToken("not-even-a-token")
	require.NoError(t, err)
	require.Nil(t, claims)
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth(t)

	token, err := a.CreateTokenFromClaims(Claims{
		UserID:         "user_1",
		OrganizationID: "org_1",
	})
	require.NoError(t, err)

	var seen *Claims
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(Context).(*Claims)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/plan", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, "org_1", seen.OrganizationID)
}

func TestClaimCheck(t *testing.T) {
	a := newTestAuth(t)

	handler := a.ClaimCheck()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// claims missing from the context
	req := httptest.NewRequest("POST", "/plan", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	// claims present
	ctx := context.WithValue(req.Context(), Context, &Claims{OrganizationID: "org_1"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRejectsMissingBearer(t *testing.T) {
	a := newTestAuth(t)

	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest("POST", "/plan", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
