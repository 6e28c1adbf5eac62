package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/tilestock/stock-service/pkg/auth"
	"github.com/tilestock/stock-service/pkg/errors"
	"github.com/tilestock/stock-service/pkg/logging"
)

const ContextKeyClaims = "authClaims"

// Authenticate requires a valid bearer token and stores its claims on the context
func Authenticate(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := verifier.ParseBearer(c.GetHeader("Authorization"))
		if err != nil {
			AbortWithAppError(c, errors.ErrUnauthorized("").Wrap(err))
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Request = c.Request.WithContext(
			logging.ContextWithCaller(c.Request.Context(), claims.UserID(), claims.ShopID),
		)
		c.Next()
	}
}

// GetClaims returns the claims stored by Authenticate, or nil
func GetClaims(c *gin.Context) *auth.Claims {
	if val, exists := c.Get(ContextKeyClaims); exists {
		if claims, ok := val.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}
