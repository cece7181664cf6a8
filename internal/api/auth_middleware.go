package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	applog "pipeforge/internal/platform/log"
)

// 只读角色，仅允许 GET 请求
const roleViewer = "viewer"

// JWTConfig JWT 鉴权配置
type JWTConfig struct {
	Secret string // HMAC 签名密钥
	Issuer string // 可选签发者校验
}

// authMiddleware JWT 鉴权中间件
// 验证 Authorization: Bearer <token>，并把 sub/roles 注入 context
func authMiddleware(cfg *JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := bearerToken(r)
			if !ok {
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Missing or malformed Authorization header")
				return
			}

			parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
			if cfg.Issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
			}

			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(cfg.Secret), nil
			}, parserOpts...)

			if err != nil || !token.Valid {
				applog.Warn("[Auth] Invalid JWT token", "error", err)
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Invalid token claims")
				return
			}

			subject, _ := claims["sub"].(string)
			if subject == "" {
				writeErrorCode(w, http.StatusForbidden, "forbidden", "Missing sub in token")
				return
			}

			var roles []string
			if rolesRaw, ok := claims["roles"].([]interface{}); ok {
				for _, r := range rolesRaw {
					if s, ok := r.(string); ok {
						roles = append(roles, s)
					}
				}
			}

			p := &Principal{Subject: subject, Roles: roles}
			if r.Method != http.MethodGet && isReadOnly(p) {
				writeErrorCode(w, http.StatusForbidden, "forbidden", "Read-only token")
				return
			}

			applog.Debug("[Auth] Principal injected", "subject", subject, "roles", roles)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// isReadOnly 只带 viewer 角色的调用方
func isReadOnly(p *Principal) bool {
	if !p.HasRole(roleViewer) {
		return false
	}
	return !p.HasRole("editor") && !p.HasRole("admin")
}
