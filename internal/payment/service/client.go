package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tirtabiz/tirta/internal/config"
	"github.com/tirtabiz/tirta/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ClientParam struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// NewClient builds the hosted-checkout gateway client, or a noop when
// no gateway is configured so the rest of the system keeps working.
func NewClient(p ClientParam) domain.Client {
	gw := p.Cfg.Gateway
	if gw.BaseURL == "" || gw.MerchantID == "" || gw.ServerKey == "" {
		p.Log.Info("payment gateway not configured, hosted checkout disabled")
		return &noopClient{}
	}
	return &gatewayClient{
		baseURL:    strings.TrimRight(gw.BaseURL, "/"),
		merchantID: gw.MerchantID,
		serverKey:  gw.ServerKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        p.Log.Named("payment.gateway"),
	}
}

type noopClient struct{}

func (*noopClient) CreateCheckout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	return nil, domain.ErrGatewayUnavailable
}

type gatewayClient struct {
	baseURL    string
	merchantID string
	serverKey  string
	httpClient *http.Client
	log        *zap.Logger
}

type checkoutRequestBody struct {
	MerchantID  string `json:"merchant_id"`
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

func (c *gatewayClient) CreateCheckout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	body, err := json.Marshal(checkoutRequestBody{
		MerchantID:  c.merchantID,
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Merchant-ID", c.merchantID)
	httpReq.Header.Set("X-Signature", c.sign(req.OrderID, req.Amount))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.Warn("gateway request failed", zap.Error(err), zap.String("order_id", req.OrderID))
		return nil, domain.ErrGatewayUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, domain.ErrGatewayUnavailable
	case resp.StatusCode >= 400:
		return nil, domain.ErrCheckoutRejected
	}

	var session domain.CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, domain.ErrGatewayUnavailable
	}
	session.OrderID = req.OrderID
	session.Amount = req.Amount
	return &session, nil
}

// sign computes the request signature the gateway verifies:
// HMAC-SHA256 over merchant, order and amount with the server key.
func (c *gatewayClient) sign(orderID string, amount int64) string {
	mac := hmac.New(sha256.New, []byte(c.serverKey))
	fmt.Fprintf(mac, "%s:%s:%d", c.merchantID, orderID, amount)
	return hex.EncodeToString(mac.Sum(nil))
}
