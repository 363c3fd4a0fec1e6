package security

import (
	"crypto"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or fails iss/aud checks.
	ErrInvalidToken = errors.New("invalid token")
)

// AccessClaims holds the IdP access token claims the API consumes.
// Groups carry the caller's provider/organization memberships; client roles
// live under resource_access keyed by client id.
type AccessClaims struct {
	jwt.RegisteredClaims
	Name           string                  `json:"name"`
	Email          string                  `json:"email"`
	Groups         []string                `json:"groups"`
	ResourceAccess map[string]ClientAccess `json:"resource_access"`
}

// ClientAccess holds the roles granted for one client under resource_access.
type ClientAccess struct {
	Roles []string `json:"roles"`
}

// ClientRoles returns the roles granted for the given client id, or nil when none.
func (c *AccessClaims) ClientRoles(clientID string) []string {
	if c == nil || c.ResourceAccess == nil {
		return nil
	}
	return c.ResourceAccess[clientID].Roles
}

// Verifier validates IdP-issued JWT access tokens using RS256 or ES256.
// It holds only the public key; tokens are signed by the external identity provider.
type Verifier struct {
	publicKey crypto.PublicKey
	issuer    string
	audience  string
}

// NewVerifier returns a Verifier that checks signatures against publicKey and
// requires the given issuer and audience claims.
func NewVerifier(publicKey crypto.PublicKey, issuer, audience string) *Verifier {
	return &Verifier{
		publicKey: publicKey,
		issuer:    issuer,
		audience:  audience,
	}
}

// Verify parses and validates an access token (signature, exp, iss, aud).
// Returns the token claims or ErrInvalidToken.
func (v *Verifier) Verify(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
			return v.publicKey, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
			return v.publicKey, nil
		}
		return nil, ErrInvalidToken
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != v.issuer {
		return nil, ErrInvalidToken
	}
	audOk := false
	for _, a := range claims.Audience {
		if a == v.audience {
			audOk = true
			break
		}
	}
	if !audOk {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
