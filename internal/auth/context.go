package auth

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/assetgw/internal/auth/jwt"
)

type claimsKey struct{}

// ContextWithClaims returns a copy of ctx carrying claims.
func ContextWithClaims(ctx context.Context, claims *jwt.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims stored by the gate, if any.
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*jwt.Claims)
	return claims, ok && claims != nil
}

// Claims returns the claims of the request handled by c.
func Claims(c *gin.Context) (*jwt.Claims, bool) {
	return ClaimsFromContext(c.Request.Context())
}
