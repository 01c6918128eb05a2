package utils

import (
	"time"

	"smm-publisher/domain/model"
	"smm-publisher/infrastructure/logger"

	"github.com/golang-jwt/jwt"
)

func GetCurrentTime() time.Time {
	return time.Now().UTC()
}

// GenerateToken signs payload as an HS256 JWT, the format the auth middleware accepts.
func GenerateToken(payload map[string]interface{}, secretKey string) (string, error) {
	var claims jwt.MapClaims = payload
	return sign(claims, secretKey)
}

// GenerateOperatorToken issues a panel token for userID valid for ttl.
func GenerateOperatorToken(userID, userName string, ttl time.Duration, secretKey string) (string, error) {
	now := GetCurrentTime()
	return sign(model.UserClaims{
		UserName: userName,
		StandardClaims: jwt.StandardClaims{
			Issuer:    userID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}, secretKey)
}

func sign(claims jwt.Claims, secretKey string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secretKey))
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while generate token")
		return "", err
	}
	return tokenString, nil
}
