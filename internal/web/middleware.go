package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tyemirov/bookwise/internal/authkit"
	"github.com/tyemirov/bookwise/pkg/sessiontoken"
)

// RequireRole validates the request's access token and re-resolves the
// caller's role from the profile store. Roles are resolved per request, not
// read from token claims, so a revoked admin loses access on the next call.
func RequireRole(validator *sessiontoken.Validator, resolver *authkit.RoleResolver, required authkit.Role) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		claims, validateErr := validator.ValidateRequest(contextGin.Request)
		if validateErr != nil {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		resolvedRole := resolver.Resolve(contextGin.Request.Context(), claims.GetUserID())
		if resolvedRole != required && resolvedRole != authkit.RoleAdmin {
			contextGin.AbortWithStatus(http.StatusForbidden)
			return
		}
		contextGin.Set(sessiontoken.DefaultContextKey, claims)
		contextGin.Next()
	}
}
