// Package httpkit provides HTTP utilities including tenant scoping.
package httpkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// TenantHeader carries the tenant (organization) ID on every scoped request.
	TenantHeader = "X-Tenant-ID"
	// ContextTenantIDKey is the gin context key for the tenant ID.
	ContextTenantIDKey = "tenantID"
)

// TenantRequired parses the tenant header and stores the ID on the context.
// Requests without a valid tenant ID are rejected before reaching handlers.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(TenantHeader)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "missing " + TenantHeader + " header"})
			return
		}

		tenantID, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid tenant ID"})
			return
		}

		c.Set(ContextTenantIDKey, tenantID)
		c.Next()
	}
}

// MustGetTenantID extracts the tenant ID set by TenantRequired. It aborts
// with 500 when the middleware did not run; routes using it must be mounted
// under a tenant-scoped group.
func MustGetTenantID(c *gin.Context) (uuid.UUID, bool) {
	value, ok := c.Get(ContextTenantIDKey)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "tenant scope missing"})
		return uuid.Nil, false
	}
	tenantID, ok := value.(uuid.UUID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "tenant scope missing"})
		return uuid.Nil, false
	}
	return tenantID, true
}
