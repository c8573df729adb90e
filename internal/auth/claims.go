package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for the admin API.
// Subject identifies the operator (or service) calling; Role drives RBAC.
type Claims struct {
	jwt.RegisteredClaims

	Role string `json:"role"`
}
