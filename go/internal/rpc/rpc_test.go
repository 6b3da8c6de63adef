package rpc

import (
	"errors"
	"fmt"
	"testing"

	"connectrpc.com/connect"
	"github.com/mcdev12/livequiz/go/internal/store"
)

func TestToConnectError(t *testing.T) {
	errClosed := errors.New("session closed")
	tests := []struct {
		name string
		err  error
		want connect.Code
	}{
		{"rule wins", fmt.Errorf("join: %w", errClosed), connect.CodeFailedPrecondition},
		{"not found", fmt.Errorf("lookup: %w", store.ErrNotFound), connect.CodeNotFound},
		{"unavailable", store.Unavailable("update session", errors.New("conn reset")), connect.CodeUnavailable},
		{"deserialization", &store.DeserializationError{Entity: "session", Key: "x", Field: "status", Err: errors.New("bad")}, connect.CodeDataLoss},
		{"unknown", errors.New("boom"), connect.CodeInternal},
		{"passthrough", connect.NewError(connect.CodePermissionDenied, errors.New("no")), connect.CodePermissionDenied},
	}
	rules := []Rule{{Target: errClosed, Code: connect.CodeFailedPrecondition}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := connect.CodeOf(ToConnectError(tt.err, rules...)); got != tt.want {
				t.Fatalf("code = %v, want %v", got, tt.want)
			}
		})
	}
	if ToConnectError(nil) != nil {
		t.Fatal("nil error should map to nil")
	}
}

func TestRuleReason(t *testing.T) {
	errExpired := errors.New("session expired")
	err := ToConnectError(errExpired, Rule{Target: errExpired, Code: connect.CodeFailedPrecondition, Reason: "expired"})
	if got := Reason(err); got != "expired" {
		t.Fatalf("Reason = %q, want expired", got)
	}
	if got := Reason(ToConnectError(store.ErrNotFound)); got != "" {
		t.Fatalf("Reason without rule = %q", got)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(ToConnectError(store.Unavailable("get session", errors.New("timeout")))) {
		t.Fatal("unavailable should be retryable")
	}
	if Retryable(ToConnectError(store.ErrNotFound)) {
		t.Fatal("not found should not be retryable")
	}
}

func TestCodecRejectsUnknownFields(t *testing.T) {
	type msg struct {
		Pin string `json:"pin"`
	}
	var m msg
	if err := (jsonCodec{}).Unmarshal([]byte(`{"pin":"482913"}`), &m); err != nil || m.Pin != "482913" {
		t.Fatalf("Unmarshal = %+v, %v", m, err)
	}
	if err := (jsonCodec{}).Unmarshal([]byte(`{"pin":"482913","correct":true}`), &m); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
	if err := (jsonCodec{}).Unmarshal(nil, &m); err != nil {
		t.Fatalf("empty body: %v", err)
	}
}
