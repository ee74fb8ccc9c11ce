package marketdata

// Token identifies a tradable instrument.
type Token = int64

// DepthLevel is a single price level of the order book.
type DepthLevel struct {
	Price float64 `json:"price" msgpack:"price"`
	Qty   int64   `json:"qty" msgpack:"qty"`
}

// Depth contains the optional market depth of a quote.
type Depth struct {
	Buy  []DepthLevel `json:"buy,omitempty" msgpack:"buy,omitempty"`
	Sell []DepthLevel `json:"sell,omitempty" msgpack:"sell,omitempty"`
}

// InstrumentQuote is the latest known trade/book snapshot of one instrument.
type InstrumentQuote struct {
	Token          Token   `json:"token" msgpack:"token"`
	LTP            float64 `json:"ltp" msgpack:"ltp"`
	Bid            float64 `json:"bid" msgpack:"bid"`
	Ask            float64 `json:"ask" msgpack:"ask"`
	Open           float64 `json:"open" msgpack:"open"`
	High           float64 `json:"high" msgpack:"high"`
	Low            float64 `json:"low" msgpack:"low"`
	Close          float64 `json:"close" msgpack:"close"`
	Volume         int64   `json:"volume" msgpack:"volume"`
	LastTradedTime int64   `json:"ltt" msgpack:"ltt"` // epoch milliseconds
	BuyQty         int64   `json:"buyQty" msgpack:"buyQty"`
	SellQty        int64   `json:"sellQty" msgpack:"sellQty"`
	Depth          *Depth  `json:"depth,omitempty" msgpack:"depth,omitempty"`
}

// Field is a quote field that is tracked for directional changes.
type Field string

const (
	FieldLTP     Field = "ltp"
	FieldBid     Field = "bid"
	FieldAsk     Field = "ask"
	FieldBuyQty  Field = "buyQty"
	FieldSellQty Field = "sellQty"
)

// TrackedFields lists every field the reconciler compares, in display order.
var TrackedFields = []Field{FieldLTP, FieldBid, FieldAsk, FieldBuyQty, FieldSellQty}

// Direction is the direction a field moved since the previous reconciliation.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ChangeFlag marks that a field of a quote moved up or down.
type ChangeFlag struct {
	Token     Token
	Field     Field
	Direction Direction
}

// FieldFlags maps the changed fields of a single quote to their direction.
type FieldFlags map[Field]Direction

// Changeset is the set of flags produced by a single ApplyBatch call, keyed by token.
type Changeset map[Token]FieldFlags

// Flags returns the changeset as a flat list.
func (c Changeset) Flags() []ChangeFlag {
	flags := make([]ChangeFlag, 0, len(c))
	for token, ff := range c {
		for _, field := range TrackedFields {
			if dir, ok := ff[field]; ok {
				flags = append(flags, ChangeFlag{Token: token, Field: field, Direction: dir})
			}
		}
	}
	return flags
}
