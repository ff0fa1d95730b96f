package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"creditengine/internal/config"
	"creditengine/internal/infrastructure/metrics"
	"creditengine/internal/model"
	"creditengine/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// InvoiceService 发票生成
//
// 金额公式（kind = invoice）：
//
//	discounted = max(0, subtotal - discount)
//	total      = round_half_up(discounted * (1 + tax_rate))
//	tax        = total - discounted
//
// 税率在结算时从 tax_rate 表解析，不在下单时锁定。
type InvoiceService struct {
	db               *gorm.DB
	cfg              *config.Config
	invoiceRepo      *repository.InvoiceRepository
	taxRepo          *repository.TaxRepository
	purchaseRepo     *repository.PurchaseRepository
	subscriptionRepo *repository.SubscriptionRepository
	notifier         *Notifier
	metrics          *metrics.Metrics
	now              func() time.Time
}

func NewInvoiceService(db *gorm.DB, cfg *config.Config, notifier *Notifier, m *metrics.Metrics) *InvoiceService {
	return &InvoiceService{
		db:               db,
		cfg:              cfg,
		invoiceRepo:      repository.NewInvoiceRepository(db),
		taxRepo:          repository.NewTaxRepository(db),
		purchaseRepo:     repository.NewPurchaseRepository(db),
		subscriptionRepo: repository.NewSubscriptionRepository(db),
		notifier:         notifier,
		metrics:          m,
		now:              time.Now,
	}
}

// ComputeTotals 返回折后金额、税额、含税总额
func ComputeTotals(subtotal, discount int64, taxRate decimal.Decimal) (discounted, tax, total int64) {
	discounted = subtotal - discount
	if discounted < 0 {
		discounted = 0
	}
	total = decimal.NewFromInt(discounted).Mul(decimal.NewFromInt(1).Add(taxRate)).Round(0).IntPart()
	return discounted, total - discounted, total
}

// GenerateTx 为已完成的购买单开票，同一购买单重复调用返回已有发票
// 序号行锁与发票写入在同一事务，调用方负责 savepoint
func (s *InvoiceService) GenerateTx(ctx context.Context, tx *gorm.DB, purchase *model.Purchase, subscriptionID *int64) (*model.Invoice, error) {
	existing, err := s.invoiceRepo.GetByPurchaseNo(ctx, tx, purchase.PurchaseNo, model.InvoiceKindInvoice)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvoiceGeneration, err)
	}
	if existing != nil {
		return existing, nil
	}

	address := purchase.BillingAddress.Data()
	rate := decimal.Zero
	taxRate, err := s.taxRepo.Resolve(ctx, tx, address.Country)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取税率失败: %v", ErrInvoiceGeneration, err)
	}
	if taxRate != nil {
		rate = taxRate.Rate
	}

	_, tax, total := ComputeTotals(purchase.Subtotal, purchase.DiscountAmount, rate)

	tenant := s.cfg.Billing.Tenant
	seq, err := s.invoiceRepo.NextSeq(ctx, tx, tenant)
	if err != nil {
		return nil, fmt.Errorf("%w: 分配发票号失败: %v", ErrInvoiceGeneration, err)
	}

	issuedAt := s.now()
	invoice := &model.Invoice{
		InvoiceNumber:  s.invoiceNumber(issuedAt, seq),
		Tenant:         tenant,
		Seq:            seq,
		Kind:           model.InvoiceKindInvoice,
		PurchaseNo:     purchase.PurchaseNo,
		SubscriptionID: subscriptionID,
		UserID:         purchase.UserID,
		Currency:       purchase.Currency,
		Subtotal:       purchase.Subtotal,
		DiscountAmount: purchase.DiscountAmount,
		DiscountCode:   purchase.CouponCode,
		TaxRate:        rate,
		TaxAmount:      tax,
		TotalAmount:    total,
		Status:         model.InvoiceStatusPaid,
		BillingAddress: datatypes.NewJSONType(address),
		Items: []model.InvoiceItem{{
			Description: itemDescription(purchase),
			Quantity:    1,
			UnitAmount:  purchase.Subtotal,
			Amount:      purchase.Subtotal,
		}},
		IssuedAt: issuedAt,
	}
	if err := s.invoiceRepo.Create(ctx, tx, invoice); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvoiceGeneration, err)
	}
	return invoice, nil
}

func (s *InvoiceService) invoiceNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("%s-%04d-%06d", s.cfg.Billing.InvoicePrefix, at.Year(), seq)
}

func itemDescription(purchase *model.Purchase) string {
	if purchase.PurchaseType == model.PurchaseTypeSubscription {
		return fmt.Sprintf("订阅套餐（%s）", purchase.BillingCycle)
	}
	return fmt.Sprintf("%d 积分", purchase.CreditsAmount)
}

// GenerateForPurchase 补开发票，给 invoice_pending 的购买单使用
func (s *InvoiceService) GenerateForPurchase(ctx context.Context, purchaseNo string) (*model.Invoice, error) {
	var invoice *model.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		purchase, err := s.purchaseRepo.GetByPurchaseNo(ctx, tx, purchaseNo)
		if err != nil {
			return err
		}
		if purchase.PaymentStatus != model.PaymentStatusCompleted {
			return fmt.Errorf("%w: 只有已完成的购买单可以开票", ErrPurchaseStatusInvalid)
		}

		var subscriptionID *int64
		if purchase.PurchaseType == model.PurchaseTypeSubscription {
			sub, err := s.subscriptionRepo.GetByPurchaseNo(ctx, tx, purchaseNo)
			if err != nil && !errors.Is(err, repository.ErrSubscriptionNotFound) {
				return err
			}
			if sub != nil {
				subscriptionID = &sub.ID
			}
		}

		invoice, err = s.GenerateTx(ctx, tx, purchase, subscriptionID)
		if err != nil {
			return err
		}
		return s.purchaseRepo.UpdateFields(ctx, tx, purchaseNo, map[string]interface{}{
			"invoice_pending": false,
			"tax_amount":      invoice.TaxAmount,
			"total_amount":    invoice.TotalAmount,
		})
	})
	if err != nil {
		s.metrics.InvoiceFailure()
		log.Printf("[Invoice] 补开发票失败: purchaseNo=%s, err=%v", purchaseNo, err)
		return nil, err
	}
	log.Printf("[Invoice] 补开发票成功: purchaseNo=%s, invoice=%s", purchaseNo, invoice.InvoiceNumber)
	return invoice, nil
}

// GenerateCreditNote 冲红发票，金额为原发票取负
func (s *InvoiceService) GenerateCreditNote(ctx context.Context, tx *gorm.DB, original *model.Invoice) (*model.Invoice, error) {
	existing, err := s.invoiceRepo.GetByPurchaseNo(ctx, tx, original.PurchaseNo, model.InvoiceKindCreditNote)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvoiceGeneration, err)
	}
	if existing != nil {
		return existing, nil
	}

	tenant := s.cfg.Billing.Tenant
	seq, err := s.invoiceRepo.NextSeq(ctx, tx, tenant)
	if err != nil {
		return nil, fmt.Errorf("%w: 分配发票号失败: %v", ErrInvoiceGeneration, err)
	}

	items := make([]model.InvoiceItem, 0, len(original.Items))
	for _, item := range original.Items {
		items = append(items, model.InvoiceItem{
			Description: "冲红: " + item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  -item.UnitAmount,
			Amount:      -item.Amount,
		})
	}

	originalID := original.ID
	issuedAt := s.now()
	note := &model.Invoice{
		InvoiceNumber:     s.invoiceNumber(issuedAt, seq),
		Tenant:            tenant,
		Seq:               seq,
		Kind:              model.InvoiceKindCreditNote,
		PurchaseNo:        original.PurchaseNo,
		SubscriptionID:    original.SubscriptionID,
		CorrectsInvoiceID: &originalID,
		UserID:            original.UserID,
		Currency:          original.Currency,
		Subtotal:          -original.Subtotal,
		DiscountAmount:    -original.DiscountAmount,
		DiscountCode:      original.DiscountCode,
		TaxRate:           original.TaxRate,
		TaxAmount:         -original.TaxAmount,
		TotalAmount:       -original.TotalAmount,
		Status:            model.InvoiceStatusSent,
		BillingAddress:    original.BillingAddress,
		Items:             items,
		IssuedAt:          issuedAt,
	}
	if err := s.invoiceRepo.Create(ctx, tx, note); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvoiceGeneration, err)
	}
	return note, nil
}

func (s *InvoiceService) GetByPurchaseNo(ctx context.Context, purchaseNo string) (*model.Invoice, error) {
	return s.invoiceRepo.GetByPurchaseNo(ctx, nil, purchaseNo, model.InvoiceKindInvoice)
}
