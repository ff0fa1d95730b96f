package payment

import (
	"context"
	"fmt"

	"creditengine/internal/config"
	"creditengine/internal/model"
	"creditengine/pkg/money"
)

// BankTransferChannel 线下转账：发起时只返回收款账户，确认依赖人工审核通过的凭证
type BankTransferChannel struct {
	cfg config.BankTransferConfig
}

func NewBankTransferChannel(cfg config.BankTransferConfig) *BankTransferChannel {
	return &BankTransferChannel{cfg: cfg}
}

func (c *BankTransferChannel) Method() string { return model.PaymentMethodBankTransfer }

func (c *BankTransferChannel) Initiate(ctx context.Context, purchase *model.Purchase) (*Handle, error) {
	details := &BankDetails{
		BankName:      c.cfg.BankName,
		AccountName:   c.cfg.AccountName,
		AccountNumber: c.cfg.AccountNumber,
		RoutingNumber: c.cfg.RoutingNumber,
		SwiftCode:     c.cfg.SwiftCode,
		Reference:     purchase.PurchaseNo,
		Amount:        money.Format(purchase.Amount, purchase.Currency),
		Currency:      purchase.Currency,
		Instructions:  c.cfg.Instructions,
	}
	return &Handle{
		Method:       c.Method(),
		ProviderID:   purchase.PurchaseNo,
		BankDetails:  details,
		UploadTarget: withPurchase(c.cfg.UploadPath, purchase.PurchaseNo),
		Metadata: map[string]interface{}{
			"bank_reference": purchase.PurchaseNo,
		},
	}, nil
}

// Confirm 没有审核通过的凭证一律 pending，webhook 无法伪造凭证
func (c *BankTransferChannel) Confirm(ctx context.Context, purchase *model.Purchase, conf Confirmation) (*SettlementResult, error) {
	proof := conf.Proof
	if proof == nil || proof.Status != model.ProofStatusApproved {
		return &SettlementResult{Status: SettlementPending}, nil
	}
	if proof.PurchaseNo != purchase.PurchaseNo {
		return nil, fmt.Errorf("%w: proof purchase=%s", ErrConfirmationMismatch, proof.PurchaseNo)
	}
	return &SettlementResult{
		Status:            SettlementSucceeded,
		ProviderReference: proof.TransactionReference,
	}, nil
}
