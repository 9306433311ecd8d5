package devserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var ErrInvalidToken = errors.New("invalid token")

const viewerKey = "viewer"

// Auth 签发与校验 HS256 令牌，sub 为用户 id。
type Auth struct {
	Secret []byte
	TTL    time.Duration
	now    func() time.Time
}

func NewAuth(secret string, ttl time.Duration) *Auth {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Auth{Secret: []byte(secret), TTL: ttl, now: time.Now}
}

// Issue 为用户签发访问令牌。
func (a *Auth) Issue(userID int64, username string) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(a.TTL)
	claims := jwtlib.MapClaims{
		"sub":      strconv.FormatInt(userID, 10),
		"username": username,
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
		"exp":      exp.Unix(),
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.Secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return signed, exp, nil
}

// Verify 校验签名与有效期，返回用户 id。
func (a *Auth) Verify(token string) (int64, error) {
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// 仅允许 HMAC 家族
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return a.Secret, nil
	}, jwtlib.WithTimeFunc(a.now))
	if err != nil {
		return 0, errors.Wrap(ErrInvalidToken, err.Error())
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return 0, errors.Wrap(ErrInvalidToken, err.Error())
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidToken, "bad sub %q", sub)
	}
	return id, nil
}

// middleware 从 bearer 头取出当前用户；未知用户与坏令牌一律 401。
func (a *Auth) middleware(graph *Graph) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || token == "" {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := a.Verify(token)
		if err != nil || !graph.HasUser(id) {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}
		c.Set(viewerKey, id)
		c.Next()
	}
}

func viewer(c *gin.Context) int64 {
	return c.GetInt64(viewerKey)
}
