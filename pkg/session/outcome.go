package session

import "fmt"

// Reason says why a runner stopped.
type Reason int

const (
	// ReasonCanceled: the runner's context ended. Not a termination of the session.
	ReasonCanceled Reason = iota
	ReasonAuthFailed
	ReasonLoggedOut
	ReasonProxyDead
	ReasonAbandoned
)

func (r Reason) String() string {
	switch r {
	case ReasonCanceled:
		return "canceled"
	case ReasonAuthFailed:
		return "auth_failed"
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonProxyDead:
		return "proxy_dead"
	case ReasonAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Outcome is what Run returns. A runner that is sustaining its session never returns.
type Outcome struct {
	ProxyID string
	Reason  Reason
	Err     error
}

// Terminated reports whether the session could not be sustained, as opposed to
// the runner being cancelled.
func (o Outcome) Terminated() bool {
	return o.Reason != ReasonCanceled
}
