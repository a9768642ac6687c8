package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims are the access token claims issued by the account provider
type Claims struct {
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// User is the authenticated caller
type User struct {
	ID       uuid.UUID
	Email    string
	Role     string
	Metadata map[string]any
}

// DisplayName returns the name the provider stored for the user, if any
func (u *User) DisplayName() string {
	for _, key := range []string{"display_name", "full_name", "name"} {
		if v, ok := u.Metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// TokenVerifier validates HS256 access tokens. Accounts are managed by an
// external provider; this service only verifies what it issued.
type TokenVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewTokenVerifier creates a verifier. Empty issuer or audience are not checked.
func NewTokenVerifier(secret, issuer, audience string) *TokenVerifier {
	return &TokenVerifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}
}

// Verify validates a token and returns its user
func (v *TokenVerifier) Verify(tokenString string) (*User, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}

	return &User{
		ID:       id,
		Email:    claims.Email,
		Role:     claims.Role,
		Metadata: claims.UserMetadata,
	}, nil
}

// Issue signs a token for userID. The provider issues real tokens; this is
// used by tests and local tooling.
func (v *TokenVerifier) Issue(userID uuid.UUID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    v.issuer,
			Subject:   userID.String(),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
