package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ctxClaims = "claims"
	ctxToken  = "token"
)

// BearerToken extracts the token from an Authorization header, or "".
func BearerToken(header string) string {
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("bearer "):])
}

// AdminAuth enforces bearer JWT tokens signed with HS256 that have not been
// revoked.
func AdminAuth(signingKey, issuer string, revocations RevocationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := BearerToken(c.GetHeader("Authorization"))
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if revocations != nil {
			revoked, err := revocations.IsRevoked(c.Request.Context(), tokenStr)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "token check unavailable"})
				return
			}
			if revoked {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrTokenRevoked.Error()})
				return
			}
		}
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxClaims, claims)
		c.Set(ctxToken, tokenStr)
		c.Next()
	}
}

// ClaimsFrom returns the claims AdminAuth stored on the context.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(ctxClaims)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

// TokenFrom returns the raw bearer token AdminAuth accepted.
func TokenFrom(c *gin.Context) string {
	return c.GetString(ctxToken)
}
