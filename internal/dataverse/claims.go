package dataverse

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Principal describes who an access token was issued to. It is read from the
// token without verifying its signature and is for display only; Dataverse
// performs the real validation.
type Principal struct {
	Name     string `json:"name,omitempty"`
	ObjectID string `json:"objectId,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
	AppID    string `json:"appId,omitempty"`
}

// PrincipalFromToken extracts identity claims from an Entra ID access token.
// Opaque (non-JWT) tokens yield an error.
func PrincipalFromToken(accessToken string) (*Principal, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	p := &Principal{
		Name:     firstClaim(claims, "upn", "preferred_username", "unique_name", "app_displayname"),
		ObjectID: firstClaim(claims, "oid"),
		TenantID: firstClaim(claims, "tid"),
		AppID:    firstClaim(claims, "appid", "azp"),
	}
	if *p == (Principal{}) {
		return nil, fmt.Errorf("access token carries no identity claims")
	}
	return p, nil
}

func firstClaim(claims jwt.MapClaims, names ...string) string {
	for _, n := range names {
		if s, ok := claims[n].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
