package simulated

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"optiquantia/internal/models"
)

const issuer = "optiquantia-simulated"

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func (t tokenIssuer) issue(accountID, email string) (string, models.SessionHandle, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := sessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", models.SessionHandle{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, models.SessionHandle{AccountID: accountID, Email: email, ExpiresAt: exp}, nil
}

func (t tokenIssuer) parse(raw string) (models.SessionHandle, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return models.SessionHandle{}, err
	}
	if claims.Subject == "" {
		return models.SessionHandle{}, fmt.Errorf("session token has no subject")
	}
	return models.SessionHandle{AccountID: claims.Subject, Email: claims.Email, ExpiresAt: claims.ExpiresAt.Time}, nil
}
