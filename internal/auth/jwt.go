package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenDuration 签发 token 的默认有效期
const DefaultTokenDuration = 24 * time.Hour

var (
	// ErrInvalidToken token 无法解析、签名不符或已过期
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidHeader Authorization 头不是 Bearer 格式
	ErrInvalidHeader = errors.New("invalid authorization header format")
)

// Claims JWT 声明，user_id 即额度账户和对话的归属用户
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTManager HS256 签发和校验
type JWTManager struct {
	secretKey []byte
	issuer    string
}

// NewJWTManager 创建 JWT 管理器；issuer 为空时不校验签发方
func NewJWTManager(secretKey, issuer string) *JWTManager {
	return &JWTManager{secretKey: []byte(secretKey), issuer: issuer}
}

// GenerateToken 为 userID 签发 token，ttl <= 0 时使用默认有效期
func (m *JWTManager) GenerateToken(userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenDuration
	}
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// Verify 校验 token 并返回声明
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return m.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractTokenFromHeader 从 "Authorization: Bearer <token>" 提取 token
func ExtractTokenFromHeader(authHeader string) (string, error) {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || token == "" {
		return "", ErrInvalidHeader
	}
	return token, nil
}
