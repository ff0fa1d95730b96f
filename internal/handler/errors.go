package handler

import (
	"errors"
	"log"

	"creditengine/internal/infrastructure/lock"
	"creditengine/internal/payment"
	"creditengine/internal/repository"
	"creditengine/internal/service"
	"creditengine/pkg/money"
	"creditengine/pkg/response"

	"github.com/gin-gonic/gin"
)

// errorCode 业务错误映射为响应码，未识别的错误返回 0
func errorCode(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, money.ErrInvalidAmount):
		return response.CodeParamError
	case errors.Is(err, service.ErrCoupon):
		return response.CodeCouponInvalid
	case errors.Is(err, service.ErrPurchaseNotFound):
		return response.CodePurchaseNotFound
	case errors.Is(err, service.ErrPurchaseStatusInvalid):
		return response.CodePurchaseStatusInvalid
	case errors.Is(err, repository.ErrDuplicateRequest):
		return response.CodeDuplicateRequest
	case errors.Is(err, service.ErrInsufficientFunds):
		return response.CodeInsufficientCredits
	case errors.Is(err, payment.ErrConfirmationMismatch):
		return response.CodeConfirmationMismatch
	case errors.Is(err, service.ErrSettlementPending):
		return response.CodeSettlementPending
	case errors.Is(err, service.ErrConflictingSubscription), errors.Is(err, repository.ErrActiveSubscription):
		return response.CodeSubscriptionConflict
	case errors.Is(err, service.ErrInvoiceGeneration):
		return response.CodeInvoiceFailed
	case errors.Is(err, service.ErrNotReversible):
		return response.CodeNotReversible
	case errors.Is(err, service.ErrSubscriptionNotFound):
		return response.CodeSubscriptionNotFound
	case errors.Is(err, service.ErrPackageNotFound):
		return response.CodePackageNotFound
	case errors.Is(err, service.ErrProofNotFound):
		return response.CodeProofNotFound
	case errors.Is(err, lock.ErrLockFailed):
		return response.CodeSystemBusy
	case errors.Is(err, service.ErrChannel), errors.Is(err, payment.ErrChannelNotFound):
		return response.CodeChannelError
	}
	return 0
}

func writeError(c *gin.Context, err error) {
	code := errorCode(err)
	switch code {
	case 0:
		log.Printf("[HTTP] 未处理的错误: path=%s, err=%v", c.Request.URL.Path, err)
		response.ServerError(c, "服务器内部错误")
	case response.CodeParamError:
		response.ParamError(c, err.Error())
	case response.CodeCouponInvalid:
		response.ErrorWithReason(c, code, err.Error(), service.CouponReason(err))
	default:
		response.BusinessError(c, code, err.Error())
	}
}
