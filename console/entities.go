package console

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// InstrumentDescriptor is the static reference data of an instrument. It is
// only used for display.
type InstrumentDescriptor struct {
	Token    int64           `json:"token"`
	Symbol   string          `json:"symbol"`
	Exchange string          `json:"exchange"`
	Segment  string          `json:"segment"`
	Expiry   *civil.Date     `json:"expiry,omitempty"`
	TickSize decimal.Decimal `json:"tickSize"`
	LotSize  int64           `json:"lotSize"`
}

// DisplayName returns the symbol followed by the expiry, e.g. "NIFTY 25JAN24".
func (d InstrumentDescriptor) DisplayName() string {
	if d.Expiry == nil || !d.Expiry.IsValid() {
		return d.Symbol
	}
	exp := d.Expiry.In(time.UTC)
	return d.Symbol + " " + strings.ToUpper(exp.Format("02Jan06"))
}

// RoundToTick rounds price to the nearest multiple of the tick size.
func (d InstrumentDescriptor) RoundToTick(price float64) decimal.Decimal {
	p := decimal.NewFromFloat(price)
	if !d.TickSize.IsPositive() {
		return p
	}
	return p.Div(d.TickSize).Round(0).Mul(d.TickSize)
}

type addWatchlistRequest struct {
	Token int64 `json:"token"`
}
