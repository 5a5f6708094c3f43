package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

type ctxKey struct{}

// Claims is the subset of the identity provider's access token we read.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens and puts the user on the
// request context.
type Authenticator struct {
	secret   []byte
	audience string
	logger   *zap.Logger
}

func NewAuthenticator(secret, audience string, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{secret: []byte(secret), audience: audience, logger: logger.Named("auth")}
}

// RequireUser rejects requests without a valid token with 401.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.Authenticate(r)
		if err != nil {
			a.logger.Debug("rejected request", zap.String("path", r.URL.Path), zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// Authenticate parses the Authorization header into a user.
func (a *Authenticator) Authenticate(r *http.Request) (models.AuthUser, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return models.AuthUser{}, errors.New("missing bearer token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return models.AuthUser{}, err
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return models.AuthUser{}, errors.New("subject is not a user id")
	}
	return models.AuthUser{ID: id, Email: claims.Email}, nil
}

func WithUser(ctx context.Context, user models.AuthUser) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFromContext returns the authenticated user set by RequireUser.
func UserFromContext(ctx context.Context) (models.AuthUser, bool) {
	user, ok := ctx.Value(ctxKey{}).(models.AuthUser)
	return user, ok && user.ID != uuid.Nil
}
