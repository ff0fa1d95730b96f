package repository

import (
	"context"
	"errors"

	"creditengine/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvoiceExists = errors.New("发票已存在")

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// NextSeq 在事务内锁定租户序号行并递增，保证发票号严格递增且不重复
func (r *InvoiceRepository) NextSeq(ctx context.Context, tx *gorm.DB, tenant string) (int64, error) {
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant"}},
			DoNothing: true,
		}).
		Create(&model.InvoiceSequence{Tenant: tenant}).Error
	if err != nil {
		return 0, err
	}

	var seq model.InvoiceSequence
	err = tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant = ?", tenant).
		First(&seq).Error
	if err != nil {
		return 0, err
	}

	next := seq.LastSeq + 1
	result := tx.WithContext(ctx).
		Model(&model.InvoiceSequence{}).
		Where("tenant = ? AND last_seq = ?", tenant, seq.LastSeq).
		Update("last_seq", next)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, ErrOptimisticLock
	}
	return next, nil
}

// Create 写入发票及明细，同一购买单同类发票只能有一张
func (r *InvoiceRepository) Create(ctx context.Context, tx *gorm.DB, invoice *model.Invoice) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(invoice).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrInvoiceExists
	}
	return err
}

// GetByPurchaseNo 没有时返回 nil, nil
func (r *InvoiceRepository) GetByPurchaseNo(ctx context.Context, tx *gorm.DB, purchaseNo, kind string) (*model.Invoice, error) {
	if tx == nil {
		tx = r.db
	}
	var invoice model.Invoice
	err := tx.WithContext(ctx).
		Preload("Items").
		Where("purchase_no = ? AND kind = ?", purchaseNo, kind).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *InvoiceRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Invoice, int64, error) {
	var invoices []*model.Invoice
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Invoice{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Items").
		Order("seq DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&invoices).Error

	return invoices, total, err
}

type TaxRepository struct {
	db *gorm.DB
}

func NewTaxRepository(db *gorm.DB) *TaxRepository {
	return &TaxRepository{db: db}
}

func (r *TaxRepository) Create(ctx context.Context, rate *model.TaxRate) error {
	return r.db.WithContext(ctx).Create(rate).Error
}

// Resolve 取辖区税率，辖区未配置时回落到默认税率；都没有时返回 nil, nil
func (r *TaxRepository) Resolve(ctx context.Context, tx *gorm.DB, jurisdiction string) (*model.TaxRate, error) {
	if tx == nil {
		tx = r.db
	}
	var rate model.TaxRate
	if jurisdiction != "" {
		err := tx.WithContext(ctx).
			Where("jurisdiction = ? AND is_active = ?", jurisdiction, true).
			Order("id DESC").
			First(&rate).Error
		if err == nil {
			return &rate, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	err := tx.WithContext(ctx).
		Where("is_default = ? AND is_active = ?", true, true).
		Order("id DESC").
		First(&rate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rate, nil
}
