// Package ierrors defines the single error currency used across the
// rate-management agent's component boundaries.
package ierrors

import "fmt"

// Kind tags the taxonomy of errors the agent can surface. It deliberately
// mirrors the error kinds named in the component design rather than
// individual Go error values, so callers can switch on Kind without
// depending on wrapped-error identity.
type Kind string

const (
	KindCallResult                         Kind = "call_result"
	KindUnauthorized                       Kind = "unauthorized"
	KindNonExistentValue                   Kind = "non_existent_value"
	KindRpcResponseError                   Kind = "rpc_response_error"
	KindDecodingError                      Kind = "decoding_error"
	KindLocked                             Kind = "locked"
	KindCustom                             Kind = "custom"
	KindCyclesBalanceAboveRechargeThreshold Kind = "cycles_balance_above_recharge_threshold"
	KindNoConsensus                        Kind = "no_consensus"
	KindArithmetic                         Kind = "arithmetic"
	KindHalted                             Kind = "halted"
	KindRevert                             Kind = "revert"
)

// ManagerError is the error type returned by every exported operation on
// the agent. It wraps an underlying cause (possibly nil) and is safe to
// compare by Kind or unwrap with errors.Is/errors.As.
type ManagerError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *ManagerError) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return string(e.Kind)
}

func (e *ManagerError) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *ManagerError {
	return &ManagerError{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *ManagerError {
	return &ManagerError{Kind: kind, Msg: msg, Err: err}
}

func Locked() *ManagerError {
	return New(KindLocked, "strategy is locked")
}

func Unauthorized(msg string) *ManagerError {
	return New(KindUnauthorized, msg)
}

func NonExistentValue(msg string) *ManagerError {
	return New(KindNonExistentValue, msg)
}

func Arithmetic(msg string) *ManagerError {
	return New(KindArithmetic, msg)
}

func NoConsensus(detail string) *ManagerError {
	return New(KindNoConsensus, detail)
}

func Halted() *ManagerError {
	return New(KindHalted, "agent is halted")
}

func RpcResponseError(err error) *ManagerError {
	return Wrap(KindRpcResponseError, "rpc response error", err)
}

func Custom(msg string) *ManagerError {
	return New(KindCustom, msg)
}

// KindOf extracts the Kind of err if it is (or wraps) a *ManagerError,
// falling back to KindCustom for any other error.
func KindOf(err error) Kind {
	for err != nil {
		if m, ok := err.(*ManagerError); ok {
			return m.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return KindCustom
}

// IsKind reports whether err is a *ManagerError of the given kind.
func IsKind(err error, kind Kind) bool {
	var me *ManagerError
	for err != nil {
		if m, ok := err.(*ManagerError); ok {
			me = m
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return me != nil && me.Kind == kind
}
