package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/tirtabiz/tirta/internal/invoice/domain"
	paymentdomain "github.com/tirtabiz/tirta/internal/payment/domain"
	"github.com/tirtabiz/tirta/internal/rating"
)

type generateInvoicesRequest struct {
	Period string `json:"period"`
}

// GenerateInvoices runs the monthly batch for every active meter.
// Defaults to the most recently closed month.
func (s *Server) GenerateInvoices(c *gin.Context) {
	period, err := s.bindPeriod(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.invoiceSvc.GenerateForAllMeters(c.Request.Context(), period)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GenerateMeterInvoice(c *gin.Context) {
	meterID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	period, err := s.bindPeriod(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.invoiceSvc.GenerateForMeter(c.Request.Context(), meterID, period)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// bindPeriod reads the optional request body; an absent or empty period
// means the most recently closed month.
func (s *Server) bindPeriod(c *gin.Context) (string, error) {
	var req generateInvoicesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			return "", invalidRequestError()
		}
	}

	period := strings.TrimSpace(req.Period)
	if period == "" {
		return invoicedomain.PreviousPeriod(invoicedomain.PeriodOf(s.clock.Now()))
	}
	return period, nil
}

func (s *Server) ListMyInvoices(c *gin.Context) {
	payerID, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit, err := parseLimitQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.invoiceSvc.ListByCustomer(c.Request.Context(), payerID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	payerID, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inv, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if inv.CustomerID != payerID {
		AbortWithError(c, invoicedomain.ErrForbidden)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) PayInvoice(c *gin.Context) {
	payerID, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.invoiceSvc.Pay(c.Request.Context(), id, payerID, invoicedomain.MethodWallet)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) PayAllInvoices(c *gin.Context) {
	payerID, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.invoiceSvc.PayAll(c.Request.Context(), payerID, invoicedomain.MethodWallet)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type reverseInvoiceRequest struct {
	Status string `json:"status" binding:"required"`
}

// ReverseInvoiceStatus applies an operator correction (cancel, expire,
// refund, chargeback, fraud, or back to pending).
func (s *Server) ReverseInvoiceStatus(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req reverseInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invoiceSvc.ReverseStatus(c.Request.Context(), id, strings.TrimSpace(strings.ToLower(req.Status)))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RenderInvoicePDF(c *gin.Context) {
	payerID, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	pdf, err := s.invoiceSvc.RenderPDF(c.Request.Context(), id, payerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=invoice-%s.pdf", id))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// CheckoutInvoice opens a hosted-checkout session at the payment
// gateway for one pending invoice, late fee included.
func (s *Server) CheckoutInvoice(c *gin.Context) {
	payerID, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inv, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if inv.CustomerID != payerID {
		AbortWithError(c, invoicedomain.ErrForbidden)
		return
	}
	if inv.Status != invoicedomain.StatusPending {
		AbortWithError(c, invoicedomain.ErrAlreadyPaid)
		return
	}

	amount := inv.Amount + rating.ComputeLateFee(inv.Amount, invoicedomain.DaysLate(inv.DueDate, s.clock.Now()))

	session, err := s.paymentClient.CreateCheckout(c.Request.Context(), paymentdomain.CheckoutRequest{
		OrderID:     paymentdomain.BuildInvoiceOrderID(inv.ID),
		Amount:      amount,
		CustomerID:  payerID,
		Description: fmt.Sprintf("Water bill %s", inv.Period),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

// CheckoutAllInvoices opens one session covering every pending invoice
// of the caller.
func (s *Server) CheckoutAllInvoices(c *gin.Context) {
	payerID, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	invoices, err := s.invoiceSvc.ListByCustomer(c.Request.Context(), payerID, 500)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	now := s.clock.Now()
	var total int64
	var pending int
	for _, inv := range invoices {
		if inv.Status != invoicedomain.StatusPending {
			continue
		}
		pending++
		total += inv.Amount + rating.ComputeLateFee(inv.Amount, invoicedomain.DaysLate(inv.DueDate, now))
	}
	if pending == 0 {
		AbortWithError(c, invoicedomain.ErrInvoiceNotFound)
		return
	}

	session, err := s.paymentClient.CreateCheckout(c.Request.Context(), paymentdomain.CheckoutRequest{
		OrderID:     paymentdomain.BuildMultiOrderID(payerID, now),
		Amount:      total,
		CustomerID:  payerID,
		Description: fmt.Sprintf("Water bills, %d open invoices", pending),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}
