package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStrategy is returned by ParseStrategy.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy selects how Local and Remote backends are combined.
type Strategy int

const (
	// StrategyLocalFirst tries Local and falls back to Remote on failure,
	// empty text or low confidence.
	StrategyLocalFirst Strategy = iota
	// StrategyLocalOnly never calls Remote.
	StrategyLocalOnly
	// StrategyRemoteOnly never calls Local.
	StrategyRemoteOnly
	// StrategyAuto picks the primary backend from rolling statistics.
	StrategyAuto
)

// String returns the configuration label of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyLocalFirst:
		return "local_first"
	case StrategyLocalOnly:
		return "local_only"
	case StrategyRemoteOnly:
		return "api_only"
	case StrategyAuto:
		return "auto"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy parses local_only, api_only, local_first or auto.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local_first", "":
		return StrategyLocalFirst, nil
	case "local_only":
		return StrategyLocalOnly, nil
	case "api_only", "remote_only":
		return StrategyRemoteOnly, nil
	case "auto":
		return StrategyAuto, nil
	default:
		return StrategyLocalFirst, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// State is a step of a single engine call.
type State int

const (
	StateIdle State = iota
	StateTryingPrimary
	StateTryingFallback
	StateSuccess
	StateFailed
)

// String returns the state label.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateTryingPrimary:
		return "TRYING_PRIMARY"
	case StateTryingFallback:
		return "TRYING_FALLBACK"
	case StateSuccess:
		return "SUCCESS"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Fallback reasons.
const (
	ReasonNotConfigured = "primary_not_configured"
	ReasonError         = "primary_error"
	ReasonTimeout       = "primary_timeout"
	ReasonEmpty         = "primary_empty"
	ReasonLowConfidence = "primary_low_confidence"
)
