package applicanttoken

import (
	"studentcheck/internal/platform/middleware"
)

func ToMiddlewareClaims(claims *Claims) *middleware.ApplicantClaims {
	return &middleware.ApplicantClaims{
		ApplicantID: claims.ApplicantID,
		TokenID:     claims.ID,
	}
}

// Adapter satisfies middleware.TokenValidator.
type Adapter struct {
	service *Service
}

func NewAdapter(service *Service) *Adapter {
	return &Adapter{service: service}
}

func (a *Adapter) ValidateToken(tokenString string) (*middleware.ApplicantClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims), nil
}
