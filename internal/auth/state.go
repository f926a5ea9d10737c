// Package auth 外部OAuth提供方的客户端桥接：签发登录会话id、校验回传消息、转发到认证连接。
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	apperrors "github.com/wfunc/tabletop-client/internal/errors"
)

const stateIssuer = "tabletop-client"

// StateClaims 登录会话id的声明
type StateClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// StateIssuer 签发和校验带过期时间的登录会话id
type StateIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateIssuer 创建签发器；secret 为空时每个进程随机生成
func NewStateIssuer(secret string, ttl time.Duration) *StateIssuer {
	key := []byte(secret)
	if len(key) == 0 {
		key = []byte(uuid.NewString() + uuid.NewString())
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateIssuer{secret: key, ttl: ttl, now: time.Now}
}

// Issue 生成新的会话id
func (s *StateIssuer) Issue() (string, error) {
	now := s.now()
	claims := &StateClaims{
		Nonce: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    stateIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrAuthentication, "sign session id")
	}
	return signed, nil
}

// Verify 校验会话id
func (s *StateIssuer) Verify(sessionID string) (*StateClaims, error) {
	if sessionID == "" {
		return nil, apperrors.New(apperrors.ErrTokenInvalid, "empty session id")
	}
	token, err := jwt.ParseWithClaims(sessionID, &StateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	},
		jwt.WithIssuer(stateIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.Wrap(err, apperrors.ErrTokenExpired)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrTokenInvalid)
	}

	claims, ok := token.Claims.(*StateClaims)
	if !ok || !token.Valid {
		return nil, apperrors.New(apperrors.ErrTokenInvalid)
	}
	return claims, nil
}
