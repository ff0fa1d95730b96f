package handler

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"creditengine/internal/config"
	"creditengine/internal/model"
	"creditengine/internal/payment"
	"creditengine/internal/service"
	"creditengine/pkg/money"
	"creditengine/pkg/response"

	"github.com/gin-gonic/gin"
)

// Services 处理器依赖的业务服务
type Services struct {
	Purchases     *service.PurchaseService
	Ledger        *service.LedgerService
	Coupons       *service.CouponService
	Invoices      *service.InvoiceService
	Subscriptions *service.SubscriptionService
	Proofs        *service.ProofService
	Reversals     *service.ReversalService
}

// Handler 统一处理器
type Handler struct {
	svc       *Services
	verifiers map[string]*payment.WebhookVerifier // key 为支付方式
	currency  string
}

func NewHandler(svc *Services, verifiers map[string]*payment.WebhookVerifier, cfg *config.Config) *Handler {
	currency := cfg.Billing.Currency
	if currency == "" {
		currency = "USD"
	}
	if verifiers == nil {
		verifiers = map[string]*payment.WebhookVerifier{}
	}
	return &Handler{svc: svc, verifiers: verifiers, currency: currency}
}

func queryUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return 0, false
	}
	return userID, true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

// ============================================================
// 购买单
// ============================================================

// CreatePurchase 创建购买单
// POST /api/v1/purchase/create
func (h *Handler) CreatePurchase(c *gin.Context) {
	var req service.CreatePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	purchase, err := h.svc.Purchases.Create(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, newPurchaseView(purchase))
}

// GetPurchase 购买单详情，已开票时附带发票
// GET /api/v1/purchase/detail?purchase_no=xxx
func (h *Handler) GetPurchase(c *gin.Context) {
	purchaseNo := c.Query("purchase_no")
	if purchaseNo == "" {
		response.ParamError(c, "purchase_no 参数不能为空")
		return
	}

	ctx := c.Request.Context()
	purchase, err := h.svc.Purchases.Get(ctx, purchaseNo)
	if err != nil {
		writeError(c, err)
		return
	}
	invoice, err := h.svc.Invoices.GetByPurchaseNo(ctx, purchaseNo)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"purchase": newPurchaseView(purchase),
		"invoice":  newInvoiceView(invoice),
	})
}

// ListPurchases 用户购买单列表
// GET /api/v1/purchase/list?user_id=xxx&page=1&page_size=20
func (h *Handler) ListPurchases(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	page, pageSize := pageParams(c)

	purchases, total, err := h.svc.Purchases.List(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      newPurchaseViews(purchases),
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// CancelPurchase 取消 pending 购买单
// POST /api/v1/purchase/cancel
func (h *Handler) CancelPurchase(c *gin.Context) {
	var req struct {
		PurchaseNo string `json:"purchase_no" binding:"required"`
		UserID     int64  `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	purchase, err := h.svc.Purchases.Cancel(c.Request.Context(), req.PurchaseNo, req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, newPurchaseView(purchase))
}

// BeginSettlement 选择支付方式并发起支付
// POST /api/v1/purchase/settle
func (h *Handler) BeginSettlement(c *gin.Context) {
	var req struct {
		PurchaseNo    string `json:"purchase_no" binding:"required"`
		PaymentMethod string `json:"payment_method" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	handle, err := h.svc.Purchases.BeginSettlement(c.Request.Context(), req.PurchaseNo, req.PaymentMethod)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, handle)
}

// ReversePurchase 冲正已完成的购买单（退款或拒付后由运营调用）
// POST /api/v1/purchase/reverse
func (h *Handler) ReversePurchase(c *gin.Context) {
	var req service.ReverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	purchase, err := h.svc.Reversals.Reverse(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, newPurchaseView(purchase))
}

// ============================================================
// 结算回跳与确认
// ============================================================

// CheckoutReturn 托管收银台支付成功后回跳
// GET /api/v1/settlement/checkout/return?purchase_no=xxx&session_id=xxx
func (h *Handler) CheckoutReturn(c *gin.Context) {
	h.confirm(c, model.PaymentMethodCheckout, c.Query("purchase_no"), c.Query("session_id"))
}

// WalletReturn 钱包授权后回跳，token 是钱包订单 ID
// GET /api/v1/settlement/wallet/return?purchase_no=xxx&token=xxx
func (h *Handler) WalletReturn(c *gin.Context) {
	h.confirm(c, model.PaymentMethodWallet, c.Query("purchase_no"), c.Query("token"))
}

// ConfirmIntent 前端完成卡支付后确认
// POST /api/v1/settlement/intent/confirm
func (h *Handler) ConfirmIntent(c *gin.Context) {
	var req struct {
		PurchaseNo string `json:"purchase_no"`
		IntentID   string `json:"intent_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	h.confirm(c, model.PaymentMethodCardIntent, req.PurchaseNo, req.IntentID)
}

func (h *Handler) confirm(c *gin.Context, method, purchaseNo, providerRef string) {
	if providerRef == "" {
		response.ParamError(c, "缺少渠道确认信息")
		return
	}

	ctx := c.Request.Context()
	if purchaseNo == "" {
		purchase, err := h.svc.Purchases.GetByProvider(ctx, method, providerRef)
		if err != nil {
			writeError(c, err)
			return
		}
		purchaseNo = purchase.PurchaseNo
	}

	purchase, err := h.svc.Purchases.OnSettled(ctx, purchaseNo, payment.Confirmation{ProviderReference: providerRef})
	if errors.Is(err, service.ErrSettlementPending) {
		response.ErrorWithData(c, response.CodeSettlementPending, err.Error(), newPurchaseView(purchase))
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, newPurchaseView(purchase))
}

// Webhook 网关异步通知，先验签再处理
// POST /api/v1/webhook/:channel
func (h *Handler) Webhook(c *gin.Context) {
	method := c.Param("channel")
	verifier, ok := h.verifiers[method]
	if !ok {
		response.Error(c, response.CodeNotFound, "未配置该渠道的 webhook: "+method)
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		response.ParamError(c, "读取请求体失败")
		return
	}
	event, err := verifier.Verify(body, c.GetHeader(payment.SignatureHeader))
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	purchase, err := h.svc.Purchases.HandleWebhook(c.Request.Context(), method, event)
	if errors.Is(err, service.ErrSettlementPending) {
		response.ErrorWithData(c, response.CodeSettlementPending, err.Error(), newPurchaseView(purchase))
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"purchase_no":    purchase.PurchaseNo,
		"payment_status": purchase.PaymentStatus,
	})
}

// ============================================================
// 线下转账凭证
// ============================================================

// UploadProof 上传转账凭证
// POST /api/v1/proof/upload (multipart: purchase_no, user_id, transaction_reference, file)
func (h *Handler) UploadProof(c *gin.Context) {
	userID, err := strconv.ParseInt(c.PostForm("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	purchaseNo := c.PostForm("purchase_no")
	if purchaseNo == "" {
		response.ParamError(c, "purchase_no 参数不能为空")
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.ParamError(c, "缺少凭证文件")
		return
	}
	file, err := header.Open()
	if err != nil {
		response.ParamError(c, "读取凭证文件失败")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		response.ParamError(c, "读取凭证文件失败")
		return
	}

	proof, err := h.svc.Proofs.SubmitProof(c.Request.Context(), &service.SubmitProofRequest{
		PurchaseNo:           purchaseNo,
		UserID:               userID,
		Filename:             header.Filename,
		Data:                 data,
		TransactionReference: c.PostForm("transaction_reference"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, proof)
}

// ReviewProof 人工审核凭证
// POST /api/v1/proof/review
func (h *Handler) ReviewProof(c *gin.Context) {
	var req service.ReviewProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	proof, purchase, err := h.svc.Proofs.ReviewProof(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"proof":    proof,
		"purchase": newPurchaseView(purchase),
	})
}

// ListProofs 购买单的全部凭证
// GET /api/v1/proof/list?purchase_no=xxx
func (h *Handler) ListProofs(c *gin.Context) {
	purchaseNo := c.Query("purchase_no")
	if purchaseNo == "" {
		response.ParamError(c, "purchase_no 参数不能为空")
		return
	}
	proofs, err := h.svc.Proofs.ListProofs(c.Request.Context(), purchaseNo)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, proofs)
}

// ============================================================
// 优惠码
// ============================================================

// ValidateCoupon 下单前试算优惠
// POST /api/v1/coupon/validate
func (h *Handler) ValidateCoupon(c *gin.Context) {
	var req struct {
		Code     string `json:"code" binding:"required"`
		UserID   int64  `json:"user_id" binding:"required"`
		Amount   string `json:"amount" binding:"required"`
		Currency string `json:"currency"`
		Category string `json:"category"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = h.currency
	}
	amount, err := money.Parse(req.Amount, currency)
	if err != nil {
		writeError(c, err)
		return
	}
	category := req.Category
	if category == "" {
		category = model.PurchaseTypeCredits
	}

	result, err := h.svc.Coupons.Validate(c.Request.Context(), req.Code, req.UserID, amount, category)
	if result == nil && err != nil {
		writeError(c, err)
		return
	}

	// 不可用的优惠码也是正常结果，调用方按 valid/reason 展示
	response.Success(c, gin.H{
		"valid":           result.Valid,
		"code":            result.Code,
		"discount_amount": money.Format(result.DiscountAmount, currency),
		"reason":          result.Reason,
	})
}

// ============================================================
// 订阅
// ============================================================

// ActivateSubscription 激活免费套餐
// POST /api/v1/subscription/activate
func (h *Handler) ActivateSubscription(c *gin.Context) {
	var req service.ActivateFreeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	sub, err := h.svc.Subscriptions.ActivateFree(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, sub)
}

// CancelSubscription 取消订阅
// POST /api/v1/subscription/cancel
func (h *Handler) CancelSubscription(c *gin.Context) {
	var req struct {
		UserID         int64 `json:"user_id" binding:"required"`
		SubscriptionID int64 `json:"subscription_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	sub, err := h.svc.Subscriptions.Cancel(c.Request.Context(), req.UserID, req.SubscriptionID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, sub)
}

// GetActiveSubscription 当前生效订阅，没有时 data 为空
// GET /api/v1/subscription/active?user_id=xxx
func (h *Handler) GetActiveSubscription(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	sub, err := h.svc.Subscriptions.GetActive(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"subscription": sub})
}

// ============================================================
// 积分
// ============================================================

// ApplyUsage 按用量扣减积分
// POST /api/v1/credit/usage
func (h *Handler) ApplyUsage(c *gin.Context) {
	var req struct {
		UserID      int64  `json:"user_id" binding:"required"`
		Credits     int64  `json:"credits" binding:"required,gt=0"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	entry, err := h.svc.Ledger.ApplyUsage(c.Request.Context(), req.UserID, req.Credits, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, entry)
}

// GetBalance 积分余额
// GET /api/v1/credit/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	balance, err := h.svc.Ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, newBalanceView(balance))
}

// CheckAvailability 扣费前检查余额是否足够
// GET /api/v1/credit/check?user_id=xxx&credits=10
func (h *Handler) CheckAvailability(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	credits, err := strconv.ParseInt(c.Query("credits"), 10, 64)
	if err != nil || credits <= 0 {
		response.ParamError(c, "credits 参数错误")
		return
	}

	available, balance, err := h.svc.Ledger.CheckAvailability(c.Request.Context(), userID, credits)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"available": available,
		"balance":   balance.Balance,
	})
}

// ListLedger 积分流水
// GET /api/v1/credit/ledger?user_id=xxx&page=1&page_size=20
func (h *Handler) ListLedger(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	page, pageSize := pageParams(c)

	entries, total, err := h.svc.Ledger.ListLedger(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// UpdateSettings 修改提醒阈值与自动充值
// POST /api/v1/credit/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
		service.SettingsRequest
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	balance, err := h.svc.Ledger.UpdateSettings(c.Request.Context(), req.UserID, &req.SettingsRequest)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, newBalanceView(balance))
}
