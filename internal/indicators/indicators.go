// Package indicators provides rolling-window price statistics for strategies.
package indicators

// Window is a bounded price history for one instrument. Not safe for
// concurrent use; each strategy owns its windows.
type Window struct {
	prices []float64
	max    int
}

func NewWindow(size int) *Window {
	if size < 2 {
		size = 2
	}
	return &Window{max: size}
}

// Push appends a price, evicting the oldest when full.
func (w *Window) Push(price float64) {
	w.prices = append(w.prices, price)
	if len(w.prices) > w.max {
		w.prices = w.prices[len(w.prices)-w.max:]
	}
}

// Len returns the number of stored prices.
func (w *Window) Len() int { return len(w.prices) }

// SMA returns the simple moving average over the last period prices, or 0
// when the window has fewer samples.
func (w *Window) SMA(period int) float64 {
	return SMA(w.prices, period)
}

// RSI returns the relative strength index over the last period prices.
func (w *Window) RSI(period int) float64 {
	return RSI(w.prices, period)
}

// Values returns the stored prices, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.prices))
	copy(out, w.prices)
	return out
}

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// RSI computes a basic Relative Strength Index without smoothing.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}

	gain := 0.0
	loss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}
