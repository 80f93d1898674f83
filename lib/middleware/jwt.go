package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kedeai/imagehub/lib/logger"
)

type contextKey string

const userIDKey contextKey = "user_id"

var (
	errMissingHeader = errors.New("authorization header required")
	errBadScheme     = errors.New("invalid authorization header format")
)

// VerifyJWT validates HS256 bearer tokens signed with jwtSecret and puts the
// token subject into the request context as the user id. Tokens without a
// subject are rejected.
func VerifyJWT(jwtSecret string) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.FromContext(r.Context())

			token, err := extractBearerToken(r.Header.Get("Authorization"))
			if err != nil {
				log.WarnContext(r.Context(), "rejected request", "error", err)
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}

			claims := &jwt.RegisteredClaims{}
			_, err = parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
				return []byte(jwtSecret), nil
			})
			if err != nil {
				log.WarnContext(r.Context(), "failed to parse JWT", "error", err)
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			if claims.Subject == "" {
				log.WarnContext(r.Context(), "JWT has no subject")
				writeError(w, http.StatusUnauthorized, "unauthorized", "token has no subject")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
			ctx = logger.AddToContext(ctx, log.With("user_id", claims.Subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdminToken allows only requests whose bearer token equals token.
// An empty token disables the endpoint entirely.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, err := extractBearerToken(r.Header.Get("Authorization"))
			if err != nil || token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				logger.FromContext(r.Context()).WarnContext(r.Context(), "rejected admin request", "path", r.URL.Path)
				writeError(w, http.StatusForbidden, "forbidden", "admin token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken extracts the token from "Bearer <token>" format
func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errMissingHeader
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", errBadScheme
	}
	return token, nil
}

// GetUserIDFromContext extracts the user ID from context
func GetUserIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userIDKey).(string); ok {
		return userID
	}
	return ""
}

// WithUserID returns ctx carrying userID, as VerifyJWT would set it.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
