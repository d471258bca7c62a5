package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
)

const agentTokenHeader = "X-Agent-Token"

type AuthConfig struct {
	JWTSecret  string
	AgentToken string
	AdminUser  string
	AdminPass  string
	TokenTTL   time.Duration
	Logger     *log.Logger
}

type Principal struct {
	Subject string
	Role    string // admin or agent
	Source  string // jwt or agent_token
}

type principalKey struct{}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

func authenticateJWT(token, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	role := claims.Role
	if role == "" {
		role = "admin"
	}
	return Principal{Subject: claims.Subject, Role: role, Source: "jwt"}, nil
}

func issueJWT(subject, secret string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: "admin",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}

// newAuthMiddleware admits bearer JWTs and the static agent token. Auth is
// disabled entirely when neither a jwt secret nor an agent token is
// configured, which is the local single-user mode.
func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	open := map[string]bool{
		joinPath(basePath, "health"):     true,
		joinPath(basePath, "auth/login"): true,
	}
	enabled := strings.TrimSpace(cfg.JWTSecret) != "" || strings.TrimSpace(cfg.AgentToken) != ""
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if !enabled || open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			if agentToken := strings.TrimSpace(req.Header.Get(agentTokenHeader)); agentToken != "" {
				if cfg.AgentToken == "" || !tokenEqual(agentToken, cfg.AgentToken) {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				ctx := withPrincipal(req.Context(), Principal{Subject: "agent", Role: "agent", Source: "agent_token"})
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			principal, err := authenticateJWT(token, cfg.JWTSecret)
			if err != nil {
				cfg.logger().Printf("auth: rejected token: %v", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			ctx := withPrincipal(req.Context(), principal)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func registerAuth(api huma.API, cfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "auth-login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for a session token",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			Token     string `json:"token"`
			ExpiresIn int64  `json:"expiresIn"`
		} `json:"body"`
	}, error) {
		if cfg.AdminUser == "" || cfg.AdminPass == "" {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "login disabled", nil)
		}
		if !tokenEqual(input.Body.Username, cfg.AdminUser) || !tokenEqual(input.Body.Password, cfg.AdminPass) {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
		}
		ttl := cfg.TokenTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		token, err := issueJWT(cfg.AdminUser, cfg.JWTSecret, ttl, time.Now())
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Token     string `json:"token"`
				ExpiresIn int64  `json:"expiresIn"`
			} `json:"body"`
		}{}
		out.Body.Token = token
		out.Body.ExpiresIn = int64(ttl.Seconds())
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "auth-me",
		Method:      http.MethodGet,
		Path:        "/auth/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			// Auth disabled: report the implicit local principal.
			p = Principal{Subject: "local", Role: "admin", Source: "none"}
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{
			"subject": p.Subject,
			"role":    p.Role,
			"source":  p.Source,
		}}, nil
	})
}
