// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// requireBearerAuth wraps an introspection handler with HMAC JWT
// verification against ORCHESTRATOR_JWT_SECRET. When the secret is unset
// the service is assumed to run behind a trusted internal network and
// auth is skipped, matching how the rest of the pack's debug endpoints
// behave in local/dev deployments.
func requireBearerAuth(next http.HandlerFunc) http.HandlerFunc {
	secret := os.Getenv("ORCHESTRATOR_JWT_SECRET")
	if secret == "" {
		return next
	}

	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == header {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}
