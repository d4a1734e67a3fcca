// Package applicanttoken validates the bearer tokens the upstream identity
// gateway issues to applicants. The applicant ID travels in the
// applicant_id claim.
package applicanttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "studentcheck/pkg/domain"
	dErrors "studentcheck/pkg/domain-errors"
)

// Claims represents the access token claims we rely on.
type Claims struct {
	ApplicantID string `json:"applicant_id"`
	jwt.RegisteredClaims
}

// Service signs and validates applicant tokens with a shared HMAC key.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
	leeway     time.Duration
}

func NewService(signingKey string, issuer string, audience string) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		leeway:     30 * time.Second,
	}
}

// Issue mints a token for applicantID. The gateway owns issuance in
// production; this is used by local tooling and tests.
func (s *Service) Issue(applicantID id.ApplicantID, expiresIn time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ApplicantID: applicantID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   applicantID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// ValidateToken checks signature, expiry, issuer and audience.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if _, err := id.ParseApplicantID(claims.ApplicantID); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid applicant claim")
	}
	return claims, nil
}
