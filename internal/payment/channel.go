package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"creditengine/internal/model"
)

// ============================================================================
// 支付渠道适配层
// ============================================================================
//
// 四种渠道确认时机不同，但对编排器暴露同一个接口：
//
//   checkout       Initiate 返回跳转地址，回跳后用 session id 向网关核验
//   card_intent    Initiate 返回 client secret，前端确认后同步核验
//   wallet         Initiate 返回授权地址，回跳后调用 capture 核验
//   bank_transfer  Initiate 返回收款账户，人工审核凭证通过后才算确认
//
// 编排器只关心 SettlementResult：成功就结算，失败就置 failed，pending 保持 processing。
//
// ============================================================================

var (
	ErrChannelNotFound      = errors.New("支付渠道不存在")
	ErrDeclined             = errors.New("支付被拒绝")
	ErrGatewayUnavailable   = errors.New("支付网关不可用")
	ErrGatewayTimeout       = errors.New("支付网关超时")
	ErrConfirmationMismatch = errors.New("支付确认信息与购买单不符")

	// ErrNoProviderReference 发起支付时未拿到渠道单号（例如网关超时），无从查询
	ErrNoProviderReference = fmt.Errorf("%w: 缺少渠道单号", ErrConfirmationMismatch)
)

type SettlementStatus string

const (
	SettlementSucceeded SettlementStatus = "succeeded"
	SettlementPending   SettlementStatus = "pending"
	SettlementFailed    SettlementStatus = "failed"
)

// SettlementResult 渠道核验结果
type SettlementResult struct {
	Status            SettlementStatus
	ProviderReference string
	Reason            string
}

func (r *SettlementResult) Success() bool {
	return r != nil && r.Status == SettlementSucceeded
}

// BankDetails 线下转账收款信息
type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	RoutingNumber string `json:"routing_number,omitempty"`
	SwiftCode     string `json:"swift_code,omitempty"`
	Reference     string `json:"reference"` // 转账备注，填购买单号
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Instructions  string `json:"instructions,omitempty"`
}

// Handle 发起结算后返回给调用方的信息，不同渠道填不同字段
type Handle struct {
	Method       string                 `json:"method"`
	ProviderID   string                 `json:"provider_id,omitempty"`
	RedirectURL  string                 `json:"redirect_url,omitempty"`
	ClientSecret string                 `json:"client_secret,omitempty"`
	BankDetails  *BankDetails           `json:"bank_details,omitempty"`
	UploadTarget string                 `json:"upload_target,omitempty"`
	Metadata     map[string]interface{} `json:"-"` // 写入购买单 metadata
}

// Confirmation 渠道回调携带的确认信息
type Confirmation struct {
	ProviderReference string              // session id / intent id / wallet order id
	Proof             *model.PaymentProof // 仅 bank_transfer：已审核通过的凭证
}

// Channel 支付渠道
type Channel interface {
	Method() string
	Initiate(ctx context.Context, purchase *model.Purchase) (*Handle, error)
	Confirm(ctx context.Context, purchase *model.Purchase, conf Confirmation) (*SettlementResult, error)
}

// Registry 进程启动时构建一次，注入到编排器
type Registry struct {
	channels map[string]Channel
}

func NewRegistry(channels ...Channel) *Registry {
	r := &Registry{channels: make(map[string]Channel)}
	for _, ch := range channels {
		r.Register(ch)
	}
	return r
}

func (r *Registry) Register(ch Channel) {
	if ch == nil {
		return
	}
	r.channels[ch.Method()] = ch
}

func (r *Registry) Get(method string) (Channel, error) {
	ch, ok := r.channels[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, method)
	}
	return ch, nil
}

// Methods 已启用的渠道，按名称排序
func (r *Registry) Methods() []string {
	methods := make([]string, 0, len(r.channels))
	for m := range r.channels {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// verifyAmount 网关返回的引用、金额、币种必须与购买单一致
func verifyAmount(purchase *model.Purchase, reference string, amount int64, currency string) error {
	if reference != "" && reference != purchase.PurchaseNo {
		return fmt.Errorf("%w: reference=%s", ErrConfirmationMismatch, reference)
	}
	if amount != purchase.Amount {
		return fmt.Errorf("%w: amount=%d expected=%d", ErrConfirmationMismatch, amount, purchase.Amount)
	}
	if !strings.EqualFold(currency, purchase.Currency) {
		return fmt.Errorf("%w: currency=%s expected=%s", ErrConfirmationMismatch, currency, purchase.Currency)
	}
	return nil
}

// providerRef 回调中的 id 与发起时保存的 id 不一致视为伪造
func providerRef(purchase *model.Purchase, conf Confirmation) (string, error) {
	ref := conf.ProviderReference
	if ref == "" {
		ref = purchase.PaymentProviderID
	}
	if ref == "" {
		return "", ErrNoProviderReference
	}
	if purchase.PaymentProviderID != "" && ref != purchase.PaymentProviderID {
		return "", fmt.Errorf("%w: provider id=%s", ErrConfirmationMismatch, ref)
	}
	return ref, nil
}
