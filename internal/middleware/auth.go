package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/mbeoliero/estatechat/internal/config"
	"github.com/mbeoliero/estatechat/pkg/errcode"
	"github.com/mbeoliero/estatechat/pkg/identity"
	"github.com/mbeoliero/estatechat/pkg/jwt"
	"github.com/mbeoliero/estatechat/pkg/response"
)

const (
	// AuthorizationHeader is the header key for authorization
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer token
	BearerPrefix = "Bearer "
	// UserIdKey is the context key for user Id
	UserIdKey = "user_id"
	// RoleKey is the context key for the portal role
	RoleKey = "role"
)

// JWTAuth is the JWT authentication middleware
func JWTAuth(cfg *config.Config) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		authHeader := string(c.GetHeader(AuthorizationHeader))
		if authHeader == "" {
			response.ErrorWithCode(ctx, c, errcode.ErrTokenMissing)
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			response.ErrorWithCode(ctx, c, errcode.ErrTokenInvalid)
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, BearerPrefix)
		claims, err := ParseTokenWithFallback(tokenString, cfg)
		if err != nil {
			response.ErrorWithCode(ctx, c, errcode.ErrTokenInvalid)
			c.Abort()
			return
		}
		if !claims.Role.CanChat() {
			response.ErrorWithCode(ctx, c, errcode.ErrNoPermission)
			c.Abort()
			return
		}

		c.Set(UserIdKey, claims.UserId)
		c.Set(RoleKey, claims.Role)

		c.Next(ctx)
	}
}

// ParseTokenWithFallback tries a native token first, then falls back to a
// marketplace token if enabled.
func ParseTokenWithFallback(tokenString string, cfg *config.Config) (*jwt.Claims, error) {
	if tokenString == "" {
		return nil, errcode.ErrTokenMissing
	}
	claims, err := jwt.ParseToken(tokenString, cfg.JWT.Secret)
	if err == nil {
		return claims, nil
	}

	if cfg.ExternalJWT.Enabled {
		ext, extErr := jwt.ParseExternalToken(tokenString, cfg.ExternalJWT.Secret, cfg.ExternalJWT.DefaultRole)
		if extErr == nil {
			return ext, nil
		}
		return nil, errors.Join(err, extErr)
	}

	return nil, err
}

// GetUserId gets user Id from context
func GetUserId(c *app.RequestContext) string {
	if v, ok := c.Get(UserIdKey); ok {
		return v.(string)
	}
	return ""
}

// GetRole gets the portal role from context
func GetRole(c *app.RequestContext) identity.RoleType {
	if v, ok := c.Get(RoleKey); ok {
		return v.(identity.RoleType)
	}
	return ""
}
