package rpc

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/mcdev12/livequiz/go/internal/store"
)

// ReasonHeader carries a stable machine-readable reason on error responses.
const ReasonHeader = "Quiz-Error-Reason"

// Rule maps a domain sentinel onto a connect code. Reason, when set, is
// sent in ReasonHeader so clients can tell errors sharing a code apart.
type Rule struct {
	Target error
	Code   connect.Code
	Reason string
}

// ToConnectError converts err into a connect error. rules are consulted
// first, then the store taxonomy; anything unrecognised is internal.
func ToConnectError(err error, rules ...Rule) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}
	for _, r := range rules {
		if errors.Is(err, r.Target) {
			ce := connect.NewError(r.Code, err)
			if r.Reason != "" {
				ce.Meta().Set(ReasonHeader, r.Reason)
			}
			return ce
		}
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, store.ErrPinTaken):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.Is(err, store.ErrUnavailable):
		return connect.NewError(connect.CodeUnavailable, err)
	case store.IsDeserialization(err):
		return connect.NewError(connect.CodeDataLoss, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// Retryable reports whether a failed call may succeed if repeated unchanged.
func Retryable(err error) bool {
	switch connect.CodeOf(err) {
	case connect.CodeUnavailable, connect.CodeDeadlineExceeded, connect.CodeAborted:
		return true
	}
	return errors.Is(err, store.ErrUnavailable)
}

// Reason returns the reason attached to err by a Rule, if any.
func Reason(err error) string {
	var ce *connect.Error
	if !errors.As(err, &ce) {
		return ""
	}
	return ce.Meta().Get(ReasonHeader)
}
