package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mbeoliero/estatechat/pkg/errcode"
	"github.com/mbeoliero/estatechat/pkg/identity"
)

const issuer = "estatechat"

// Claims represents JWT claims
type Claims struct {
	UserId string            `json:"user_id"`
	Role   identity.RoleType `json:"role"`
	jwt.RegisteredClaims
}

// ExternalClaims are issued by the marketplace backend. They carry the
// numeric account id and the portal role, converted via identity.Actor.
type ExternalClaims struct {
	AccountId int64  `json:"user_id"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken generates a new JWT token
func GenerateToken(userId string, role identity.RoleType, secret string, expire time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserId: userId,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expire)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken parses and validates a JWT token
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, keyFunc(secret))
	if err != nil {
		return nil, errcode.ErrTokenInvalid.Wrap(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserId == "" {
		return nil, errcode.ErrTokenInvalid
	}
	return claims, nil
}

// ParseExternalToken parses a marketplace token and maps it onto Claims.
// defaultRole applies when the token does not carry a role.
func ParseExternalToken(tokenString, secret, defaultRole string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ExternalClaims{}, keyFunc(secret))
	if err != nil {
		return nil, errcode.ErrTokenInvalid.Wrap(err)
	}

	ext, ok := token.Claims.(*ExternalClaims)
	if !ok || !token.Valid || ext.AccountId <= 0 {
		return nil, errcode.ErrTokenInvalid
	}

	role := identity.RoleType(ext.Role)
	if ext.Role == "" {
		role = identity.RoleType(defaultRole)
	}

	actor := identity.Actor{Id: ext.AccountId, Role: role}
	userId, err := actor.ToChatUserId()
	if err != nil {
		return nil, errcode.ErrTokenInvalid.Wrap(err)
	}

	return &Claims{
		UserId:           userId,
		Role:             role,
		RegisteredClaims: ext.RegisteredClaims,
	}, nil
}

func keyFunc(secret string) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errcode.ErrTokenInvalid
		}
		return []byte(secret), nil
	}
}
