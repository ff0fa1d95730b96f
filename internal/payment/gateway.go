package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// SessionRequest 托管收银台会话
type SessionRequest struct {
	Reference   string            `json:"reference"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	SuccessURL  string            `json:"success_url"`
	CancelURL   string            `json:"cancel_url"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Session struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Status        string `json:"status"`         // open / complete / expired
	PaymentStatus string `json:"payment_status"` // paid / unpaid
	Reference     string `json:"reference"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}

type IntentRequest struct {
	Reference   string            `json:"reference"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	Customer    string            `json:"customer,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"` // requires_payment_method / requires_action / processing / succeeded / canceled
	Reference    string `json:"reference"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	LastError    string `json:"last_error,omitempty"`
}

type WalletOrderRequest struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	ReturnURL string `json:"return_url"`
	CancelURL string `json:"cancel_url"`
}

type WalletOrder struct {
	ID         string `json:"id"`
	ApproveURL string `json:"approve_url"`
	Status     string `json:"status"` // CREATED / APPROVED / COMPLETED / VOIDED
	Reference  string `json:"reference"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}

const (
	SessionStatusExpired = "expired"
	SessionPaid          = "paid"

	IntentSucceeded             = "succeeded"
	IntentCanceled              = "canceled"
	IntentRequiresPaymentMethod = "requires_payment_method"

	WalletCreated   = "CREATED"
	WalletApproved  = "APPROVED"
	WalletCompleted = "COMPLETED"
	WalletVoided    = "VOIDED"
)

type CheckoutGateway interface {
	CreateSession(ctx context.Context, req *SessionRequest) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
}

type IntentGateway interface {
	CreateIntent(ctx context.Context, req *IntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
}

type WalletGateway interface {
	CreateOrder(ctx context.Context, req *WalletOrderRequest) (*WalletOrder, error)
	GetOrder(ctx context.Context, id string) (*WalletOrder, error)
	CaptureOrder(ctx context.Context, id string) (*WalletOrder, error)
}

// RESTClient 支付网关 HTTP 客户端，三种网关共用
type RESTClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewRESTClient(baseURL, apiKey string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化网关请求失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("构造网关请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: 读取响应失败: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status=%d", ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusPaymentRequired:
		var ge gatewayError
		_ = json.Unmarshal(data, &ge)
		return fmt.Errorf("%w: %s", ErrDeclined, ge.Message)
	case resp.StatusCode >= 400:
		var ge gatewayError
		_ = json.Unmarshal(data, &ge)
		if ge.Code == "card_declined" || ge.Code == "declined" {
			return fmt.Errorf("%w: %s", ErrDeclined, ge.Message)
		}
		return fmt.Errorf("网关请求失败 status=%d code=%s: %s", resp.StatusCode, ge.Code, ge.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: 解析响应失败: %v", ErrGatewayUnavailable, err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// RESTCheckoutGateway 托管收银台
type RESTCheckoutGateway struct{ c *RESTClient }

func NewRESTCheckoutGateway(c *RESTClient) *RESTCheckoutGateway {
	return &RESTCheckoutGateway{c: c}
}

func (g *RESTCheckoutGateway) CreateSession(ctx context.Context, req *SessionRequest) (*Session, error) {
	var s Session
	if err := g.c.do(ctx, http.MethodPost, "/v1/checkout/sessions", req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (g *RESTCheckoutGateway) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := g.c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+id, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RESTIntentGateway 卡支付意图
type RESTIntentGateway struct{ c *RESTClient }

func NewRESTIntentGateway(c *RESTClient) *RESTIntentGateway {
	return &RESTIntentGateway{c: c}
}

func (g *RESTIntentGateway) CreateIntent(ctx context.Context, req *IntentRequest) (*Intent, error) {
	var in Intent
	if err := g.c.do(ctx, http.MethodPost, "/v1/payment_intents", req, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

func (g *RESTIntentGateway) GetIntent(ctx context.Context, id string) (*Intent, error) {
	var in Intent
	if err := g.c.do(ctx, http.MethodGet, "/v1/payment_intents/"+id, nil, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

// RESTWalletGateway 钱包授权 + 扣款
type RESTWalletGateway struct{ c *RESTClient }

func NewRESTWalletGateway(c *RESTClient) *RESTWalletGateway {
	return &RESTWalletGateway{c: c}
}

func (g *RESTWalletGateway) CreateOrder(ctx context.Context, req *WalletOrderRequest) (*WalletOrder, error) {
	var o WalletOrder
	if err := g.c.do(ctx, http.MethodPost, "/v1/orders", req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (g *RESTWalletGateway) GetOrder(ctx context.Context, id string) (*WalletOrder, error) {
	var o WalletOrder
	if err := g.c.do(ctx, http.MethodGet, "/v1/orders/"+id, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (g *RESTWalletGateway) CaptureOrder(ctx context.Context, id string) (*WalletOrder, error) {
	var o WalletOrder
	if err := g.c.do(ctx, http.MethodPost, "/v1/orders/"+id+"/capture", nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
