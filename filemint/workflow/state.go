package workflow

type State string

const (
	Idle            State = "idle"
	Pinning         State = "pinning"
	MetadataPinning State = "metadata_pinning"
	Registering     State = "registering"
	AwaitingReceipt State = "awaiting_receipt"
	Rewarding       State = "rewarding"
	Completed       State = "completed"

	PinFailed          State = "pin_failed"
	MetadataPinFailed  State = "metadata_pin_failed"
	RegistrationFailed State = "registration_failed"
	RewardFailed       State = "reward_failed"
)

// Failed reports whether s is a terminal failure state.
func (s State) Failed() bool {
	switch s {
	case PinFailed, MetadataPinFailed, RegistrationFailed, RewardFailed:
		return true
	}
	return false
}

func (s State) Terminal() bool {
	return s == Completed || s.Failed()
}

// failure maps an active state to the terminal state a run ends in when that step fails.
func (s State) failure() State {
	switch s {
	case Idle, Pinning:
		return PinFailed
	case MetadataPinning:
		return MetadataPinFailed
	case Registering, AwaitingReceipt:
		return RegistrationFailed
	case Rewarding:
		return RewardFailed
	}
	return s
}

// order is the position of an active state in the forward sequence.
func (s State) order() int {
	switch s {
	case Idle:
		return 0
	case Pinning:
		return 1
	case MetadataPinning:
		return 2
	case Registering:
		return 3
	case AwaitingReceipt:
		return 4
	case Rewarding:
		return 5
	case Completed:
		return 6
	}
	return -1
}
