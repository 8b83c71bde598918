package lib

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oldschoolag/Faivr/internal"
)

// AdminRole is the value of the "role" claim admin tokens must carry.
const AdminRole = "admin"

// requireAdmin rejects requests without a valid admin bearer token. It is a
// no-op when no admin secret is configured.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	if len(s.adminSecret) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lg := internal.GetRequestLogger(r)

		tokenString, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || tokenString == "" {
			lg.Debug("no admin bearer token")
			s.respondWithStatus(w, r, "unauthorized", http.StatusUnauthorized)
			return
		}

		token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
			return s.adminSecret, nil
		}, jwt.WithExpirationRequired(), jwt.WithStrictDecoding(), jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}))
		if err != nil || !token.Valid {
			lg.Debug("invalid admin token", "err", err)
			s.respondWithStatus(w, r, "unauthorized", http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			lg.Debug("invalid admin token claims type")
			s.respondWithStatus(w, r, "unauthorized", http.StatusUnauthorized)
			return
		}

		if role, _ := claims["role"].(string); role != AdminRole {
			lg.Debug("token does not carry the admin role", "role", claims["role"])
			s.respondWithStatus(w, r, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SignAdminToken mints an admin bearer token valid for ttl.
func SignAdminToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()

	return jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub":  subject,
		"role": AdminRole,
		"iat":  now.Unix(),
		"nbf":  now.Add(-1 * time.Minute).Unix(),
		"exp":  now.Add(ttl).Unix(),
	}).SignedString(secret)
}
