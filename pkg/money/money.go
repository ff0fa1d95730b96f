package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// 系统内部所有金额均以最小货币单位（如美分）的 int64 表示，
// 只有在 API 边界才与十进制字符串互相转换。

var (
	ErrInvalidAmount = errors.New("金额格式不合法")
	ErrTooPrecise    = errors.New("金额小数位超过币种精度")
)

// 无小数位的币种，其余默认两位
var zeroExponent = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
	"CLP": true,
}

// Exponent 返回币种的小数位数
func Exponent(currency string) int32 {
	if zeroExponent[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// Parse 把十进制金额字符串转换为最小货币单位
func Parse(amount, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return FromDecimal(d, currency)
}

// FromDecimal 把十进制金额转换为最小货币单位，精度超出币种时报错而不是截断
func FromDecimal(d decimal.Decimal, currency string) (int64, error) {
	exp := Exponent(currency)
	if !d.Equal(d.Truncate(exp)) {
		return 0, fmt.Errorf("%w: %s %s", ErrTooPrecise, d.String(), currency)
	}
	shifted := d.Shift(exp)
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: 超出范围 %s %s", ErrInvalidAmount, d.String(), currency)
	}
	return shifted.IntPart(), nil
}

// ToDecimal 最小货币单位 -> 十进制金额
func ToDecimal(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// Format 按币种精度输出金额字符串，如 1050 USD -> "10.50"
func Format(minor int64, currency string) string {
	return ToDecimal(minor, currency).StringFixed(Exponent(currency))
}

// ApplyRate 计算 minor * rate 并四舍五入（half-up）到最小货币单位
func ApplyRate(minor int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(minor).Mul(rate).Round(0).IntPart()
}

// Percent 计算 minor 的 pct%（pct 为 10 表示 10%），向下取整到最小货币单位
func Percent(minor int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(minor).Mul(pct).Div(decimal.NewFromInt(100)).Floor().IntPart()
}

// Credits 按兑换比例把金额换算为积分，向下取整
func Credits(minor int64, currency string, perUnit decimal.Decimal) int64 {
	return ToDecimal(minor, currency).Mul(perUnit).Floor().IntPart()
}
