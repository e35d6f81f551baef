package enum

// Phase is the lifecycle phase of a strategy's execution state.
type Phase string

const (
	PhaseWaiting       Phase = "WAITING"
	PhaseBuyPending    Phase = "BUY_PENDING"
	PhaseBought        Phase = "BOUGHT"
	PhaseSellPending   Phase = "SELL_PENDING"
	PhaseSold          Phase = "SOLD"
	PhaseStoppedByUser Phase = "STOPPED_BY_USER"
	PhaseStoppedBySL   Phase = "STOPPED_BY_SL"
	PhaseError         Phase = "ERROR"
)

// IsTerminal reports whether no further order-triggering transition may occur.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseSold, PhaseStoppedByUser, PhaseStoppedBySL, PhaseError:
		return true
	default:
		return false
	}
}

// IsPending reports whether a broker call is in flight for this phase.
func (p Phase) IsPending() bool {
	return p == PhaseBuyPending || p == PhaseSellPending
}

// Position derives the denormalized position from the phase.
func (p Phase) Position() Position {
	switch p {
	case PhaseBought, PhaseSellPending:
		return PositionLong
	default:
		return PositionNone
	}
}

// Position is the open-position view derived from the phase.
type Position string

const (
	PositionNone Position = "NONE"
	PositionLong Position = "LONG"
)
