package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 业务错误码
const (
	CodePurchaseNotFound      = 1001
	CodePurchaseStatusInvalid = 1002
	CodeInsufficientCredits   = 1003
	CodeDuplicateRequest      = 1004
	CodeCouponInvalid         = 1005
	CodeChannelError          = 1006
	CodeConfirmationMismatch  = 1007
	CodeSettlementPending     = 1008
	CodeSubscriptionConflict  = 1009
	CodeInvoiceFailed         = 1010
	CodeNotReversible         = 1011
	CodeSubscriptionNotFound  = 1012
	CodePackageNotFound       = 1013
	CodeProofNotFound         = 1014
	CodeInvalidSignature      = 1015
	CodeSystemBusy            = 1016
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Reason  string      `json:"reason,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

// ErrorWithReason 带机器可读原因的错误，例如优惠券不可用的原因
func ErrorWithReason(c *gin.Context, code int, message, reason string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Reason:  reason,
	})
}

// ErrorWithData 失败时仍需要带回数据（例如 pending 状态的购买单）
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}

// Unauthorized webhook 验签失败走 HTTP 401，网关会按状态码重试
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Code:    CodeInvalidSignature,
		Message: message,
	})
}
