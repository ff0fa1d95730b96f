package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidSignature = errors.New("webhook 签名无效")
	ErrStaleWebhook     = errors.New("webhook 时间戳超出容忍范围")
)

const (
	WebhookPaymentSucceeded = "payment.succeeded"
	WebhookPaymentFailed    = "payment.failed"

	SignatureHeader = "X-Signature"
)

// WebhookEvent 网关异步通知
type WebhookEvent struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	ProviderReference string `json:"provider_reference"`
	Reference         string `json:"reference"` // 购买单号
	Reason            string `json:"reason,omitempty"`
}

// WebhookVerifier 签名头格式: t=<unix>,v1=<hex(hmac_sha256(secret, t + "." + body))>
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewWebhookVerifier(secret string, tolerance time.Duration) *WebhookVerifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &WebhookVerifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

func (v *WebhookVerifier) Verify(payload []byte, header string) (*WebhookEvent, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: 未配置密钥", ErrInvalidSignature)
	}

	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			sig = kv[1]
		}
	}
	if ts == "" || sig == "" {
		return nil, ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if d := v.now().Sub(time.Unix(unix, 0)); d > v.tolerance || d < -v.tolerance {
		return nil, ErrStaleWebhook
	}

	expected := computeSignature(v.secret, ts, payload)
	given, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(given, expected) {
		return nil, ErrInvalidSignature
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("解析 webhook 失败: %w", err)
	}
	return &event, nil
}

// SignWebhook 生成签名头，网关模拟与测试使用
func SignWebhook(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(computeSignature([]byte(secret), ts, payload))
}

func computeSignature(secret []byte, ts string, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
