package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("plain"), false},
		{&Error{Kind: Transient, Op: "x"}, true},
		{&Error{Kind: NotVisible, Op: "x"}, true},
		{fmt.Errorf("wrapped: %w", &Error{Kind: NotVisible, Op: "x"}), true},
		{&Error{Kind: Unauthorized, Op: "x"}, false},
		{&Error{Kind: Invalid, Op: "x"}, false},
		{&Error{Kind: NotFound, Op: "x"}, false},
	}
	for i, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("#%d %v: got %t", i, tt.err, got)
		}
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(Errorf(Conflict, "add", "dup %d", 1)); got != Conflict {
		t.Errorf("got %s", got)
	}
	if got := KindOf(errors.New("x")); got != Internal {
		t.Errorf("got %s", got)
	}
	err := Errorf(NotFound, "delete row", "row %s", "r1")
	if want := "delete row: not_found: row r1"; err.Error() != want {
		t.Errorf("got %q", err.Error())
	}
}
