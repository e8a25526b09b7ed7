package planner

import (
	"math"

	"execution-kit/numerics"
)

// ArrivalFractions 到达价前置曲线在 n 个区间末端的累计完成比例：
// F(t) = 1 - (1 - t/T)^(1 + u·k)。
func ArrivalFractions(n int, urgency, convexity float64) []float64 {
	if n < 1 {
		return nil
	}
	exp := 1 + urgency*convexity
	out := make([]float64, n)
	for i := 1; i <= n; i++ {
		x := float64(i) / float64(n)
		out[i-1] = 1 - math.Pow(1-x, exp)
	}
	out[n-1] = 1
	return out
}

// Kappa Almgren-Chriss 衰减速率 κ = sqrt(λσ²/η)。
func Kappa(lambda, sigma, eta float64) float64 {
	if eta <= 0 {
		return math.NaN()
	}
	return math.Sqrt(lambda * sigma * sigma / eta)
}

// Inventory 剩余持仓比例 x(t)/X = sinh(κ(T−t))/sinh(κT)。κT 接近 0 时退化为线性。
func Inventory(kappa, T, t float64, eps float64) float64 {
	if t <= 0 {
		return 1
	}
	if t >= T {
		return 0
	}
	if kappa*T < eps {
		return 1 - t/T
	}
	return numerics.SinhRatio(kappa*(T-t), kappa*T)
}

// ShortfallFractions 按 n 个等长区间离散 x(t)，返回各区间末端的累计完成比例。
// ok=false 表示 κT 过小或出现非有限值，调用方应退回线性（TWAP）轨迹。
func ShortfallFractions(kappa, T float64, n int, eps float64) ([]float64, bool) {
	if n < 1 || !(T > 0) {
		return nil, false
	}
	kt := kappa * T
	if math.IsNaN(kt) || math.IsInf(kt, 0) || kt < eps {
		return nil, false
	}
	out := make([]float64, n)
	prev := 0.0
	for i := 1; i <= n; i++ {
		t := T * float64(i) / float64(n)
		f := 1 - Inventory(kappa, T, t, eps)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		// 单调性在浮点误差下也保持
		if f < prev {
			f = prev
		}
		out[i-1] = f
		prev = f
	}
	out[n-1] = 1
	return out, true
}

// ReplanSlices 按剩余窗口占比缩放切片数，至少 1。
func ReplanSlices(n int, fullWindow, remaining float64) int {
	if n < 1 {
		return 1
	}
	if !(fullWindow > 0) || !(remaining > 0) {
		return 1
	}
	if remaining >= fullWindow {
		return n
	}
	m := int(math.Ceil(float64(n)*remaining/fullWindow - 1e-9))
	if m < 1 {
		m = 1
	}
	return m
}
