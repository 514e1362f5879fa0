// Package auth verifies bearer tokens and exposes the caller's user id.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// subjectPattern restricts user ids to names that are stored verbatim, so
// distinct subjects never share an upload directory.
var subjectPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var errBadSubject = errors.New("token subject must contain only letters, digits, '-' or '_'")

// Validator verifies tokens signed either with an RSA key (RS256) or a shared
// secret (HS256). The token subject is the user id.
type Validator struct {
	publicKey *rsa.PublicKey
	secret    []byte
}

// NewRSAValidator loads a PEM encoded RSA public key.
func NewRSAValidator(pemPath string) (*Validator, error) {
	raw, err := os.ReadFile(pemPath)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse RSA key: %w", err)
	}
	return &Validator{publicKey: key}, nil
}

// NewHMACValidator verifies HS256 tokens with secret.
func NewHMACValidator(secret []byte) (*Validator, error) {
	if len(secret) == 0 {
		return nil, errors.New("no secret configured")
	}
	return &Validator{secret: secret}, nil
}

func (v *Validator) keyFunc(t *jwt.Token) (interface{}, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodRSA:
		if v.publicKey != nil {
			return v.publicKey, nil
		}
	case *jwt.SigningMethodHMAC:
		if v.secret != nil {
			return v.secret, nil
		}
	}
	return nil, errors.New("unexpected signing method")
}

// UserID validates token and returns its subject.
func (v *Validator) UserID(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFunc,
		jwt.WithValidMethods([]string{"RS256", "HS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	if !subjectPattern.MatchString(claims.Subject) {
		return "", errBadSubject
	}
	return claims.Subject, nil
}

// NewToken creates an HS256 token for subject. Used for local development.
func NewToken(secret []byte, subject string, expiry time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("no secret configured")
	}
	if !subjectPattern.MatchString(subject) {
		return "", errBadSubject
	}
	now := time.Now().UTC()
	claims := &jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
