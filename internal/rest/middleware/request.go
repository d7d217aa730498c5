package middleware

import (
	"github.com/deskflow/billing/internal/types"
	"github.com/gin-gonic/gin"
)

func RequestIDMiddleware(c *gin.Context) {
	ctx := c.Request.Context()

	requestID := c.GetHeader(types.HeaderRequestID)
	if requestID == "" {
		requestID = types.GenerateUUID()
	}
	ctx = types.SetRequestID(ctx, requestID)

	// the acting user is recorded as the author of notes and audit columns
	if userID := c.GetHeader(types.HeaderUserID); userID != "" {
		ctx = types.SetUserID(ctx, userID)
	}

	c.Request = c.Request.WithContext(ctx)
	c.Header(types.HeaderRequestID, requestID)

	c.Next()
}

// TenantMiddleware scopes the request context to the :tenant_id path parameter
func TenantMiddleware(c *gin.Context) {
	if tenantID := c.Param("tenant_id"); tenantID != "" {
		c.Request = c.Request.WithContext(types.SetTenantID(c.Request.Context(), tenantID))
	}
	c.Next()
}
