// Command tokengen mints HS256 access tokens for local development.
// The claims layout matches what pkg/client.AuthUserMiddleware expects:
// user_id, display_name and an optional extra_claims object with email
// and roles.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	secret := flag.String("secret", "inmem-dev-secret-change-in-production", "Secret key for signing the token")
	issuer := flag.String("issuer", "device-idm", "Issuer of the token")
	audience := flag.String("audience", "public", "Audience of the token")
	userID := flag.String("user", "test-user", "Account ID placed in the user_id claim and subject")
	displayName := flag.String("name", "", "Display name claim")
	email := flag.String("email", "", "Email placed in extra_claims")
	roles := flag.String("roles", "", "Comma-separated roles placed in extra_claims (e.g. admin)")
	expiry := flag.Duration("expiry", 30*time.Minute, "Token expiry duration (e.g., 30m, 1h, 24h)")
	outputFormat := flag.String("format", "compact", "Output format: compact or full")
	flag.Parse()

	now := time.Now().UTC()
	expiryTime := now.Add(*expiry)

	extraClaims := map[string]interface{}{}
	if *email != "" {
		extraClaims["email"] = *email
	}
	if *roles != "" {
		extraClaims["roles"] = strings.Split(*roles, ",")
	}

	claims := jwt.MapClaims{
		"iss":     *issuer,
		"aud":     *audience,
		"sub":     *userID,
		"user_id": *userID,
		"iat":     now.Unix(),
		"exp":     expiryTime.Unix(),
	}
	if *displayName != "" {
		claims["display_name"] = *displayName
	}
	if len(extraClaims) > 0 {
		claims["extra_claims"] = extraClaims
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString([]byte(*secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "compact":
		fmt.Println(tokenStr)
	case "full":
		fmt.Printf("Token: %s\nExpires: %s\n", tokenStr, expiryTime.Format(time.RFC3339))
		claimsJSON, _ := json.MarshalIndent(claims, "", "  ")
		fmt.Printf("Claims:\n%s\n", claimsJSON)
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown output format: %s\n", *outputFormat)
		os.Exit(1)
	}
}
