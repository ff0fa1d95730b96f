package payment

import (
	"context"
	"fmt"
	"strings"

	"creditengine/internal/model"
)

// CheckoutChannel 托管收银台：跳转到网关页面付款，回跳带回 session id
type CheckoutChannel struct {
	gateway    CheckoutGateway
	successURL string
	cancelURL  string
}

func NewCheckoutChannel(gateway CheckoutGateway, successURL, cancelURL string) *CheckoutChannel {
	return &CheckoutChannel{gateway: gateway, successURL: successURL, cancelURL: cancelURL}
}

func (c *CheckoutChannel) Method() string { return model.PaymentMethodCheckout }

func (c *CheckoutChannel) Initiate(ctx context.Context, purchase *model.Purchase) (*Handle, error) {
	session, err := c.gateway.CreateSession(ctx, &SessionRequest{
		Reference:   purchase.PurchaseNo,
		Amount:      purchase.Amount,
		Currency:    purchase.Currency,
		Description: describe(purchase),
		SuccessURL:  withPurchase(c.successURL, purchase.PurchaseNo),
		CancelURL:   withPurchase(c.cancelURL, purchase.PurchaseNo),
		Metadata:    map[string]string{"purchase_no": purchase.PurchaseNo},
	})
	if err != nil {
		return nil, err
	}
	return &Handle{
		Method:      c.Method(),
		ProviderID:  session.ID,
		RedirectURL: session.URL,
	}, nil
}

func (c *CheckoutChannel) Confirm(ctx context.Context, purchase *model.Purchase, conf Confirmation) (*SettlementResult, error) {
	ref, err := providerRef(purchase, conf)
	if err != nil {
		return nil, err
	}
	session, err := c.gateway.GetSession(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := verifyAmount(purchase, session.Reference, session.Amount, session.Currency); err != nil {
		return nil, err
	}

	switch {
	case session.PaymentStatus == SessionPaid:
		return &SettlementResult{Status: SettlementSucceeded, ProviderReference: session.ID}, nil
	case session.Status == SessionStatusExpired:
		return &SettlementResult{Status: SettlementFailed, ProviderReference: session.ID, Reason: "收银台会话已过期"}, nil
	default:
		return &SettlementResult{Status: SettlementPending, ProviderReference: session.ID}, nil
	}
}

func describe(purchase *model.Purchase) string {
	if purchase.PurchaseType == model.PurchaseTypeSubscription {
		return fmt.Sprintf("订阅 %s (%s)", purchase.PurchaseNo, purchase.BillingCycle)
	}
	return fmt.Sprintf("积分充值 %s: %d credits", purchase.PurchaseNo, purchase.CreditsAmount)
}

func withPurchase(url, purchaseNo string) string {
	if url == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "purchase_no=" + purchaseNo
}
