package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetMyWallet(c *gin.Context) {
	ownerID, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.walletSvc.Ensure(c.Request.Context(), ownerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type topUpRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

func (s *Server) TopUpWallet(c *gin.Context) {
	ownerID, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.walletSvc.TopUp(c.Request.Context(), ownerID, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type convertTokensRequest struct {
	Tokens int64 `json:"tokens" binding:"required,gt=0"`
}

func (s *Server) ConvertTokens(c *gin.Context) {
	ownerID, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req convertTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.walletSvc.ConvertTokens(c.Request.Context(), ownerID, req.Tokens)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListWalletTransactions(c *gin.Context) {
	ownerID, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit, err := parseLimitQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.walletSvc.ListTransactions(c.Request.Context(), ownerID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
