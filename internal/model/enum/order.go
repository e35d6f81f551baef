package enum

// Side is the order side sent to the broker.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)
