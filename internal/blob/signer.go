package blob

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/veriface/internal/clock"
)

// Signer emite y valida tokens de descarga de corta vida.
//
// El scorer externo recibe URLs firmadas en vez de claves crudas: el token
// JWT HS256 encapsula la clave del blob y expira solo. El endpoint de canje
// (/v1/files/{token}) no requiere otra autenticación.
type Signer struct {
	secret []byte
	ttl    time.Duration
	clk    clock.Clock
}

type downloadClaims struct {
	Key string `json:"key"`
	jwt.RegisteredClaims
}

var (
	ErrTokenInvalid = errors.New("blob: invalid download token")
	ErrTokenExpired = errors.New("blob: download token expired")
)

func NewSigner(secret string, ttl time.Duration, clk clock.Clock) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("blob: signer secret is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Signer{secret: []byte(secret), ttl: ttl, clk: clk}, nil
}

// Token emite un token de descarga para la clave dada.
func (s *Signer) Token(key string) (string, error) {
	now := s.clk.Now()
	claims := downloadClaims{
		Key: key,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "download",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// SignedURL arma la URL pública de canje: <base>/v1/files/<token>.
func (s *Signer) SignedURL(baseURL, key string) (string, error) {
	token, err := s.Token(key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/v1/files/%s", baseURL, url.PathEscape(token)), nil
}

// Verify valida el token y devuelve la clave del blob.
func (s *Signer) Verify(token string) (string, error) {
	claims := &downloadClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clk.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrTokenInvalid
	}
	if !parsed.Valid || claims.Key == "" {
		return "", ErrTokenInvalid
	}
	return claims.Key, nil
}
