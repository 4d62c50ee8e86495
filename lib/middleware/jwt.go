package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/onkernel/kimd/lib/logger"
)

type contextKey string

const subjectKey contextKey = "subject"

// VerifyJWT requires an HS256/384/512 bearer token signed with jwtSecret and
// stores its subject in the request context. Browsers cannot set headers on
// websocket requests, so a "token" query parameter is accepted as well.
func VerifyJWT(jwtSecret string) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.FromContext(r.Context())

			token, err := tokenFromRequest(r)
			if err != nil {
				log.WarnContext(r.Context(), "rejected request without a usable token", "error", err)
				http.Error(w, `{"code":"unauthorized","message":"bearer token required"}`, http.StatusUnauthorized)
				return
			}

			claims := jwt.RegisteredClaims{}
			if _, err := parser.ParseWithClaims(token, &claims, keyFunc); err != nil {
				log.WarnContext(r.Context(), "rejected invalid token", "error", err)
				http.Error(w, `{"code":"unauthorized","message":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		return extractBearerToken(header)
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("missing authorization header")
}

// extractBearerToken extracts the token from "Bearer <token>" format
func extractBearerToken(authHeader string) (string, error) {
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || token == "" {
		return "", fmt.Errorf("invalid authorization header format")
	}
	if !strings.EqualFold(scheme, "bearer") {
		return "", fmt.Errorf("unsupported authorization scheme: %s", scheme)
	}
	return token, nil
}

// SubjectFromContext returns the token subject stored by VerifyJWT
func SubjectFromContext(ctx context.Context) string {
	if sub, ok := ctx.Value(subjectKey).(string); ok {
		return sub
	}
	return ""
}
