package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListMyNotifications(c *gin.Context) {
	recipientID, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit, err := parseLimitQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.notificationSvc.ListByRecipient(c.Request.Context(), recipientID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListMyUsage(c *gin.Context) {
	customerID, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit, err := parseLimitQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.usageSvc.ListByCustomer(c.Request.Context(), customerID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
