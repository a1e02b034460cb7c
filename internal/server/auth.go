package server

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const staffIDContextKey contextKey = "staff_id"

const tokenLifetime = 24 * time.Hour

// jwtSecret returns the signing secret. A short or missing secret gets
// a development fallback; production deployments must set JWT_SECRET.
func jwtSecret() []byte {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "default-dev-secret-change-in-production-32chars"
	}
	if len(secret) < 32 {
		secret = secret + "xxxxxxxxxxxxxxxxxxxxxxxxxxxx"
	}
	return []byte(secret)
}

// GenerateToken issues a signed admin token for a staff account.
func GenerateToken(username string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": username,
		"exp": jwt.NewNumericDate(now.Add(tokenLifetime)),
		"iat": jwt.NewNumericDate(now),
		"iss": "hostel-concierge",
		"jti": uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret())
}

// HashPassword hashes a plain text password with bcrypt.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares a bcrypt hash with a plain text password.
func CheckPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// requireAuth wraps admin handlers with bearer-token validation.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return jwtSecret(), nil
		})
		if err != nil || !token.Valid {
			s.logger.Warn("invalid admin token", zap.Error(err))
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			http.Error(w, "Invalid token claims", http.StatusUnauthorized)
			return
		}
		staffID, _ := claims["sub"].(string)
		if staffID == "" {
			http.Error(w, "Token missing subject", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), staffIDContextKey, staffID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// staffID extracts the authenticated staff account from the context.
func staffID(ctx context.Context) string {
	if id, ok := ctx.Value(staffIDContextKey).(string); ok {
		return id
	}
	return ""
}
