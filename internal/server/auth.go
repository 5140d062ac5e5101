package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"pfmt/internal/engine/auth"
	"pfmt/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// AllowDevHeaders accepts X-User-Id / X-User-Role without credentials.
	AllowDevHeaders bool
	AllowDevLogin   bool
	TokenTTL        time.Duration
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

func authenticateJWT(token string, secret string) (auth.Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return auth.Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return auth.Principal{}, err
	}
	if !parsed.Valid {
		return auth.Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return auth.Principal{}, errors.New("subject claim required")
	}
	role := claims.Role
	if role == "" {
		role = auth.RoleUser
	}
	return auth.Principal{ID: claims.Subject, Role: role}, nil
}

// SignToken mints an HS256 token for p. A zero ttl defaults to 12 hours.
func SignToken(secret string, p auth.Principal, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if !p.Valid() {
		return "", errors.New("principal id required")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "pfmt",
		},
		Role: p.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (auth.Principal, error) {
	if strings.TrimSpace(key) == "" {
		return auth.Principal{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return auth.Principal{}, err
	}
	if apiKey.PrincipalID == "" {
		return auth.Principal{}, errors.New("api key missing principal")
	}
	return auth.Principal{ID: apiKey.PrincipalID, Role: apiKey.Role}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo, log *zap.Logger) func(http.Handler) http.Handler {
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "openapi.json"):   true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			devUser := strings.TrimSpace(req.Header.Get("X-User-Id"))

			var p auth.Principal
			var err error
			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					err = errors.New("malformed authorization header")
					break
				}
				p, err = authenticateJWT(token, cfg.JWTSecret)
			case apiKeyHeader != "":
				p, err = authenticateAPIKey(req.Context(), r, apiKeyHeader)
			case devUser != "" && cfg.AllowDevHeaders:
				role := strings.TrimSpace(req.Header.Get("X-User-Role"))
				if role == "" {
					role = auth.RoleUser
				}
				log.Warn("using unauthenticated dev headers", zap.String("user_id", devUser), zap.String("role", role))
				p = auth.Principal{ID: devUser, Role: role}
			default:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "", "authentication required"))
				return
			}
			if err != nil {
				log.Debug("authentication failed", zap.Error(err))
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials"))
				return
			}
			next.ServeHTTP(w, req.WithContext(auth.WithPrincipal(req.Context(), p)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}

type DevLoginRequest struct {
	UserID string `json:"userId" minLength:"1"`
	Role   string `json:"role,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func registerDevAuth(a huma.API, cfg AuthConfig) {
	huma.Register(a, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		role := input.Body.Role
		if role == "" {
			role = auth.RoleUser
		}
		token, err := SignToken(cfg.JWTSecret, auth.Principal{ID: strings.TrimSpace(input.Body.UserID), Role: role}, cfg.TokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "", err.Error())
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
