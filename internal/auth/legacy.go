package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LegacyIssuer is stamped into HMAC tokens minted by IssueLegacyToken.
const LegacyIssuer = "songblend-api"

// LegacyClaims represents HMAC-signed token claims
type LegacyClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// HMACVerifier validates tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Validate parses tokenString and returns its identity.
func (v *HMACVerifier) Validate(tokenString string) (*Claims, error) {
	legacy, err := ValidateLegacyToken(tokenString, v.secret)
	if err != nil {
		return nil, err
	}
	return &Claims{
		UserID:           legacy.UserID,
		Email:            legacy.Email,
		RegisteredClaims: legacy.RegisteredClaims,
	}, nil
}

func (v *HMACVerifier) Close() error { return nil }

// ValidateLegacyToken validates a token using HMAC signing
func ValidateLegacyToken(tokenString string, secret []byte) (*LegacyClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LegacyClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*LegacyClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	return claims, nil
}

// IssueLegacyToken signs an HMAC token for userID, valid for ttl.
func IssueLegacyToken(secret, userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := LegacyClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    LegacyIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
