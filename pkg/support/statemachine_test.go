package support

import (
	"errors"
	"testing"

	"github.com/mahaj/dupahar-support/pkg/model"
)

func TestNext(t *testing.T) {
	const none = model.ChannelStatus("")
	all := []Action{ActionEscalate, ActionDeescalate, ActionResolve, ActionReopen, ActionArchive}
	want := map[model.ChannelStatus][]model.ChannelStatus{
		//                     escalate                deescalate          resolve               reopen              archive
		model.StatusActive:    {model.StatusEscalated, none, model.StatusResolved, none, model.StatusArchived},
		model.StatusResolved:  {model.StatusEscalated, none, none, model.StatusActive, model.StatusArchived},
		model.StatusEscalated: {none, model.StatusActive, model.StatusResolved, none, model.StatusArchived},
		model.StatusArchived:  {none, none, none, none, none},
	}

	for from, row := range want {
		for i, action := range all {
			got, err := Next("c1", from, action)
			if row[i] == none {
				var ite *InvalidTransitionError
				if !errors.As(err, &ite) {
					t.Errorf("Next(%s, %s) err = %v, want InvalidTransitionError", from, action, err)
					continue
				}
				if ite.From != from || ite.Action != action {
					t.Errorf("Next(%s, %s) error names %s/%s", from, action, ite.From, ite.Action)
				}
				if got != from {
					t.Errorf("Next(%s, %s) = %s on failure, want unchanged", from, action, got)
				}
				continue
			}
			if err != nil || got != row[i] {
				t.Errorf("Next(%s, %s) = %s, %v; want %s", from, action, got, err, row[i])
			}
		}
	}
}

func TestRequireState(t *testing.T) {
	tests := []struct {
		status model.ChannelStatus
		action Action
		ok     bool
	}{
		{model.StatusActive, ActionWrite, true},
		{model.StatusResolved, ActionWrite, true},
		{model.StatusEscalated, ActionWrite, true},
		{model.StatusArchived, ActionWrite, false},
		{model.StatusActive, ActionAssign, true},
		{model.StatusEscalated, ActionAssign, true},
		{model.StatusResolved, ActionAssign, false},
		{model.StatusArchived, ActionAssign, false},
		{model.StatusArchived, ActionRead, true},
	}
	for _, tt := range tests {
		err := requireState(&model.Channel{ID: "c1", Status: tt.status}, tt.action)
		if (err == nil) != tt.ok {
			t.Errorf("requireState(%s, %s) = %v, want ok=%v", tt.status, tt.action, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("requireState(%s, %s) error %v is not ErrInvalidTransition", tt.status, tt.action, err)
		}
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ValidationError{Field: "type"}, "validation_error"},
		{&InvalidTransitionError{}, "invalid_transition"},
		{&AuthorizationError{}, "forbidden"},
		{&NotFoundError{Kind: "channel"}, "not_found"},
		{&ConcurrencyConflictError{}, "conflict"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%T) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
