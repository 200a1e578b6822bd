package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/chapterhub/chapterhub-backend/internal/platform/apierr"
)

func respondError(c *gin.Context, err error) {
	ae := apierr.FromError(err)
	c.JSON(ae.Status, gin.H{"error": ae.Error(), "code": ae.Code})
}
