// internal/auth/auth.go
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"

	"signal-insights/internal/config"
)

const issuer = "signal-insights"

var (
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrDisabled           = errors.New("authentication is not configured")
)

type contextKey struct{ name string }

var usernameKey = &contextKey{"username"}

// Username returns the user authenticated by a bearer token, if any.
func Username(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(usernameKey).(string)
	return u, ok
}

// AuthManager handles authentication of dashboard API calls.
type AuthManager struct {
	config config.Auth
	now    func() time.Time
}

// Claims represents JWT claims
type Claims struct {
	Username string `json:"username"`
	jwt.StandardClaims
}

func NewAuthManager(cfg config.Auth) *AuthManager {
	if cfg.JWTExpiration <= 0 {
		cfg.JWTExpiration = 24 * time.Hour
	}
	return &AuthManager{config: cfg, now: time.Now}
}

// Enabled reports whether requests are checked at all.
func (am *AuthManager) Enabled() bool {
	return am.config.Enabled()
}

// GenerateJWT creates a signed token for username.
func (am *AuthManager) GenerateJWT(username string) (string, error) {
	if am.config.JWTSecret == "" {
		return "", ErrDisabled
	}
	now := am.now()
	claims := &Claims{
		Username: username,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: now.Add(am.config.JWTExpiration).Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(am.config.JWTSecret))
}

// ValidateJWT validates the JWT token
func (am *AuthManager) ValidateJWT(tokenString string) (*Claims, error) {
	if am.config.JWTSecret == "" {
		return nil, ErrDisabled
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(am.config.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateAPIKey checks if the provided API key is valid
func (am *AuthManager) ValidateAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}
	for _, validKey := range am.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
			return true
		}
	}
	return false
}

// AuthenticateUser validates username and password against the configured
// bcrypt hashes.
func (am *AuthManager) AuthenticateUser(username, password string) error {
	hash, ok := am.config.Users[username]
	if !ok {
		// Same error for unknown users and bad passwords
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword creates a bcrypt hash from a password
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// Authenticate accepts either an X-API-Key header or a bearer token. When no
// credentials are configured every request passes.
func (am *AuthManager) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !am.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if key := r.Header.Get("X-API-Key"); key != "" {
			if !am.ValidateAPIKey(key) {
				unauthorized(w, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, "authorization required")
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			unauthorized(w, "invalid authorization format")
			return
		}
		claims, err := am.ValidateJWT(token)
		if err != nil {
			unauthorized(w, ErrInvalidToken.Error())
			return
		}
		ctx := context.WithValue(r.Context(), usernameKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
