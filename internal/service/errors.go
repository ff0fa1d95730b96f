package service

import (
	"errors"
	"fmt"

	"creditengine/internal/payment"
	"creditengine/internal/repository"
)

var (
	ErrValidation              = errors.New("参数校验失败")
	ErrChannel                 = errors.New("支付渠道错误")
	ErrInsufficientFunds       = errors.New("积分余额不足")
	ErrInvoiceGeneration       = errors.New("发票生成失败")
	ErrConflictingSubscription = errors.New("已有生效中的订阅")
	ErrSettlementPending       = errors.New("支付尚未确认，请稍后查询")
	ErrNotReversible           = errors.New("购买单不可冲正")

	ErrPurchaseNotFound      = repository.ErrPurchaseNotFound
	ErrPurchaseStatusInvalid = repository.ErrPurchaseStatusInvalid
	ErrSubscriptionNotFound  = repository.ErrSubscriptionNotFound
	ErrPackageNotFound       = repository.ErrPackageNotFound
	ErrProofNotFound         = repository.ErrProofNotFound
)

// ErrCoupon 所有优惠券错误都能用 errors.Is(err, ErrCoupon) 匹配
var ErrCoupon = errors.New("优惠券不可用")

type couponError struct {
	reason string
	msg    string
}

func (e *couponError) Error() string { return e.msg }

func (e *couponError) Is(target error) bool { return target == ErrCoupon }

// Reason 返回给调用方的机器可读原因
func (e *couponError) Reason() string { return e.reason }

var (
	ErrCouponNotFound         error = &couponError{"not_found", "优惠券不存在或已停用"}
	ErrCouponExpired          error = &couponError{"expired", "优惠券不在有效期内"}
	ErrCouponCategoryMismatch error = &couponError{"category_mismatch", "优惠券不适用于该商品"}
	ErrCouponAlreadyRedeemed  error = &couponError{"already_redeemed", "优惠券已使用过"}
	ErrCouponCapExceeded      error = &couponError{"cap_exceeded", "优惠券已被领完"}
	ErrCouponBelowMinimum     error = &couponError{"below_minimum", "未达到优惠券最低消费金额"}
)

// CouponReason 提取优惠券错误原因，非优惠券错误返回空
func CouponReason(err error) string {
	var ce *couponError
	if errors.As(err, &ce) {
		return ce.Reason()
	}
	return ""
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// channelError 网关错误统一包一层 ErrChannel，保留原始错误供 errors.Is 判断
func channelError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrChannel, err)
}

// isGatewayTimeout 超时不能判定结果，购买单保持 processing 等对账
func isGatewayTimeout(err error) bool {
	return errors.Is(err, payment.ErrGatewayTimeout)
}
