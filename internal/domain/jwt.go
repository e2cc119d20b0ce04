package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// StoreClaims represents the JWT claims issued by the account service for shoppers
type StoreClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}
