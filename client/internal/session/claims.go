package session

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var ErrInvalidToken = errors.New("invalid access token")

// Claims 客户端关心的令牌声明。
type Claims struct {
	Subject   string
	Username  string
	ExpiresAt time.Time
}

// ParseClaims 只解析不验签：令牌由外部认证服务签发，客户端没有密钥，
// 这里只用来推导用户 id 与过期时间。
func ParseClaims(token string) (Claims, error) {
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(token, claims); err != nil {
		return Claims{}, errors.Wrap(ErrInvalidToken, err.Error())
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, errors.Wrap(ErrInvalidToken, "missing sub")
	}
	out := Claims{Subject: sub}
	if name, ok := claims["username"].(string); ok {
		out.Username = name
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}
