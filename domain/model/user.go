package model

import "github.com/golang-jwt/jwt"

// UserClaims is the JWT payload issued to operators of the publishing panel.
// Issuer carries the user id.
type UserClaims struct {
	UserName string `json:"user_name"`
	jwt.StandardClaims
}
