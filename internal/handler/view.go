package handler

import (
	"creditengine/internal/model"
	"creditengine/pkg/money"
)

// 库内金额是最小货币单位，出 API 前统一格式化为十进制字符串
// 外层同名字段按 encoding/json 规则覆盖内嵌模型的 int64 字段

type purchaseView struct {
	*model.Purchase
	Amount         string `json:"amount"`
	Subtotal       string `json:"subtotal"`
	DiscountAmount string `json:"discount_amount"`
	TaxAmount      string `json:"tax_amount"`
	TotalAmount    string `json:"total_amount"`
}

func newPurchaseView(p *model.Purchase) *purchaseView {
	if p == nil {
		return nil
	}
	return &purchaseView{
		Purchase:       p,
		Amount:         money.Format(p.Amount, p.Currency),
		Subtotal:       money.Format(p.Subtotal, p.Currency),
		DiscountAmount: money.Format(p.DiscountAmount, p.Currency),
		TaxAmount:      money.Format(p.TaxAmount, p.Currency),
		TotalAmount:    money.Format(p.TotalAmount, p.Currency),
	}
}

func newPurchaseViews(list []*model.Purchase) []*purchaseView {
	views := make([]*purchaseView, 0, len(list))
	for _, p := range list {
		views = append(views, newPurchaseView(p))
	}
	return views
}

type invoiceItemView struct {
	model.InvoiceItem
	UnitAmount string `json:"unit_amount"`
	Amount     string `json:"amount"`
}

type invoiceView struct {
	*model.Invoice
	Subtotal       string            `json:"subtotal"`
	DiscountAmount string            `json:"discount_amount"`
	TaxAmount      string            `json:"tax_amount"`
	TotalAmount    string            `json:"total_amount"`
	Items          []invoiceItemView `json:"items"`
}

func newInvoiceView(inv *model.Invoice) *invoiceView {
	if inv == nil {
		return nil
	}
	items := make([]invoiceItemView, 0, len(inv.Items))
	for _, item := range inv.Items {
		items = append(items, invoiceItemView{
			InvoiceItem: item,
			UnitAmount:  money.Format(item.UnitAmount, inv.Currency),
			Amount:      money.Format(item.Amount, inv.Currency),
		})
	}
	return &invoiceView{
		Invoice:        inv,
		Subtotal:       money.Format(inv.Subtotal, inv.Currency),
		DiscountAmount: money.Format(inv.DiscountAmount, inv.Currency),
		TaxAmount:      money.Format(inv.TaxAmount, inv.Currency),
		TotalAmount:    money.Format(inv.TotalAmount, inv.Currency),
		Items:          items,
	}
}

// balanceView 积分字段保持整数，只有自动充值金额是货币
type balanceView struct {
	*model.CreditBalance
	AutoTopupAmount string `json:"auto_topup_amount"`
}

func newBalanceView(b *model.CreditBalance) *balanceView {
	if b == nil {
		return nil
	}
	return &balanceView{
		CreditBalance:   b,
		AutoTopupAmount: money.Format(b.AutoTopupAmount, b.Currency),
	}
}
