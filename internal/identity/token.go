package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// subjectClaims are probed in order for the authenticated user's identity.
var subjectClaims = []string{"sub", "user_id", "id"}

// SubjectFromToken extracts the current user's identity from a bearer token.
// The token is parsed without signature verification: issuance and validation
// belong to the server, the client only needs to know who it is acting as.
func SubjectFromToken(tokenStr string) (string, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected token claims type")
	}
	for _, name := range subjectClaims {
		if v, ok := claims[name]; ok {
			if s := Normalize(v); s != "" {
				return s, nil
			}
		}
	}
	return "", fmt.Errorf("token carries no subject claim")
}

// NameFromToken reads the optional display-name claim, falling back to "".
func NameFromToken(tokenStr string) string {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	name, _ := claims["name"].(string)
	return name
}
