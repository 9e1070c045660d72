package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/arka-squad/arka-labs-sub000/internal/api/response"
	"github.com/arka-squad/arka-labs-sub000/internal/store"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 8

// Role sets accepted by RequireRole.
var (
	AnyRole    = []string{models.RoleViewer, models.RoleEditor, models.RoleAdmin, models.RoleOwner}
	EditorPlus = []string{models.RoleEditor, models.RoleAdmin, models.RoleOwner}
	AdminPlus  = []string{models.RoleAdmin, models.RoleOwner}
)

// Claims is the JWT payload: the standard subject plus a role.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Auth authenticates bearer JWTs and API keys and checks roles.
type Auth struct {
	store     store.Store
	jwtSecret []byte
}

func NewAuth(s store.Store, jwtSecret string) *Auth {
	return &Auth{store: s, jwtSecret: []byte(jwtSecret)}
}

// Authenticate accepts either an HS256 JWT or an API key as the bearer token
// and stores the resulting Principal in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		var (
			p   Principal
			err error
		)
		if strings.Count(raw, ".") == 2 {
			p, err = a.authenticateJWT(raw)
		} else {
			p, err = a.authenticateAPIKey(r.Context(), raw)
		}
		if errors.Is(err, errLookupFailed) {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token", nil)
			return
		}
		if !slices.Contains(AnyRole, p.Role) {
			response.Error(w, http.StatusForbidden, "FORBIDDEN", "Unknown role", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetPrincipal(r.Context(), p)))
	})
}

var errLookupFailed = errors.New("api key lookup failed")

func (a *Auth) authenticateJWT(token string) (Principal, error) {
	if len(a.jwtSecret) == 0 {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}); err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{Subject: claims.Subject, Role: claims.Role, Source: "jwt"}, nil
}

func (a *Auth) authenticateAPIKey(ctx context.Context, raw string) (Principal, error) {
	if len(raw) < keyPrefixLen {
		return Principal{}, errors.New("invalid api key format")
	}
	prefix := raw[:keyPrefixLen]

	keys, err := a.store.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		slog.Error("api_key_lookup_failed", "error", err)
		return Principal{}, errLookupFailed
	}
	for _, key := range keys {
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)) == nil {
			go func() {
				if err := a.store.UpdateAPIKeyLastUsed(context.Background(), key.ID); err != nil {
					slog.Error("api_key_touch_failed", "key_id", key.ID, "error", err)
				}
			}()
			return Principal{Subject: key.Subject, Role: key.Role, Source: "api_key", KeyPrefix: prefix}, nil
		}
	}
	return Principal{}, errors.New("invalid api key")
}

// RequireRole rejects callers whose role is not in roles with 403.
func (a *Auth) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := GetPrincipal(r)
			if !ok || !slices.Contains(roles, p.Role) {
				response.Error(w, http.StatusForbidden,
					"FORBIDDEN", "Insufficient permissions", map[string]any{"required_roles": roles})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
