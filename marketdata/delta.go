package marketdata

import "github.com/shopspring/decimal"

// DefaultPriceEpsilon is the smallest absolute price move that registers as a change.
var DefaultPriceEpsilon = decimal.NewFromFloat(0.01)

// priceDirection compares two prices. The absolute difference has to exceed
// epsilon, which filters floating point and display noise.
func priceDirection(prev, next float64, epsilon decimal.Decimal) (Direction, bool) {
	diff := decimal.NewFromFloat(next).Sub(decimal.NewFromFloat(prev))
	if diff.Abs().LessThanOrEqual(epsilon) {
		return "", false
	}
	if diff.IsPositive() {
		return Up, true
	}
	return Down, true
}

// qtyDirection registers any non-zero difference.
func qtyDirection(prev, next int64) (Direction, bool) {
	switch {
	case next > prev:
		return Up, true
	case next < prev:
		return Down, true
	}
	return "", false
}

// diffQuotes returns the directional changes from prev to next, or nil when
// none of the tracked fields moved.
func diffQuotes(prev, next InstrumentQuote, epsilon decimal.Decimal) FieldFlags {
	var flags FieldFlags
	set := func(f Field, d Direction, ok bool) {
		if !ok {
			return
		}
		if flags == nil {
			flags = make(FieldFlags, len(TrackedFields))
		}
		flags[f] = d
	}

	d, ok := priceDirection(prev.LTP, next.LTP, epsilon)
	set(FieldLTP, d, ok)
	d, ok = priceDirection(prev.Bid, next.Bid, epsilon)
	set(FieldBid, d, ok)
	d, ok = priceDirection(prev.Ask, next.Ask, epsilon)
	set(FieldAsk, d, ok)
	d, ok = qtyDirection(prev.BuyQty, next.BuyQty)
	set(FieldBuyQty, d, ok)
	d, ok = qtyDirection(prev.SellQty, next.SellQty)
	set(FieldSellQty, d, ok)

	return flags
}
