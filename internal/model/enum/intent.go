package enum

// IntentKind identifies which producer raised an intent and what it asks for.
type IntentKind uint8

const (
	_intent_beg IntentKind = iota
	IntentBuyTime
	IntentSellTime
	IntentStopLoss
	IntentUserStop
	_intent_end
)

func (k IntentKind) IsAvailable() bool {
	return k > _intent_beg && k < _intent_end
}

func (k IntentKind) String() string {
	switch k {
	case IntentBuyTime:
		return "BUY_TIME"
	case IntentSellTime:
		return "SELL_TIME"
	case IntentStopLoss:
		return "STOP_LOSS"
	case IntentUserStop:
		return "USER_STOP"
	default:
		return "UNKNOWN"
	}
}
