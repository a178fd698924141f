package biz

import (
	"github.com/shopspring/decimal"
)

// 订阅计划对应的平台手续费率
var planFeeRates = map[string]decimal.Decimal{
	"free":     decimal.RequireFromString("0.5"),
	"plus":     decimal.RequireFromString("0.3"),
	"pro":      decimal.RequireFromString("0.25"),
	"pro-plus": decimal.RequireFromString("0.20"),
}

// FeeRateForPlan 返回计划对应的费率，未知计划使用 defaultRate
func FeeRateForPlan(plan string, defaultRate decimal.Decimal) decimal.Decimal {
	if rate, ok := planFeeRates[plan]; ok {
		return rate
	}
	return defaultRate
}

// ComputeFee 计算手续费和净额：fee = ceil(price * rate)，net = price - fee
func ComputeFee(price int64, rate decimal.Decimal) (fee, net int64) {
	fee = decimal.NewFromInt(price).Mul(rate).Ceil().IntPart()
	return fee, price - fee
}

// creditsFor ceil(tokens / 1000 * rate)
func creditsFor(tokens int, rate decimal.Decimal) int64 {
	if tokens <= 0 {
		return 0
	}
	return decimal.NewFromInt(int64(tokens)).
		Div(decimal.NewFromInt(1000)).
		Mul(rate).
		Ceil().
		IntPart()
}
