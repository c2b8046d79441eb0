package core

import (
	"errors"
	"testing"
)

func TestOpIDCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b OpID
		want int
	}{
		{"lower counter first", OpID{"b", 1}, OpID{"a", 2}, -1},
		{"higher counter last", OpID{"a", 3}, OpID{"b", 2}, 1},
		{"same counter by replica", OpID{"1", 5}, OpID{"2", 5}, -1},
		{"equal", OpID{"x", 9}, OpID{"x", 9}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got := tt.b.Compare(tt.a); got != -tt.want {
				t.Errorf("Compare is not antisymmetric for %v, %v", tt.a, tt.b)
			}
		})
	}
}

func TestRootString(t *testing.T) {
	if Root.String() != "root" {
		t.Errorf("unexpected root string %q", Root.String())
	}
	if (OpID{"r1", 3}).String() != "r1@3" {
		t.Errorf("unexpected id string %q", OpID{"r1", 3}.String())
	}
}

func TestOperationValidate(t *testing.T) {
	tests := []struct {
		name  string
		op    Operation
		valid bool
	}{
		{"insert at start", Operation{ID: OpID{"a", 1}, Kind: Insert, Ref: Root, Value: "H"}, true},
		{"insert after char", Operation{ID: OpID{"a", 2}, Kind: Insert, Ref: OpID{"a", 1}, Value: "é"}, true},
		{"insert multi rune", Operation{ID: OpID{"a", 1}, Kind: Insert, Value: "ab"}, false},
		{"insert empty", Operation{ID: OpID{"a", 1}, Kind: Insert}, false},
		{"insert after newer", Operation{ID: OpID{"a", 2}, Kind: Insert, Ref: OpID{"b", 3}, Value: "x"}, false},
		{"delete", Operation{ID: OpID{"a", 5}, Kind: Delete, Ref: OpID{"b", 1}}, true},
		{"delete root", Operation{ID: OpID{"a", 5}, Kind: Delete, Ref: Root}, false},
		{"delete with value", Operation{ID: OpID{"a", 5}, Kind: Delete, Ref: OpID{"b", 1}, Value: "x"}, false},
		{"missing id", Operation{Kind: Insert, Value: "x"}, false},
		{"unknown kind", Operation{ID: OpID{"a", 1}, Kind: "move", Value: "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid {
				var invalid *InvalidOperationError
				if !errors.As(err, &invalid) {
					t.Errorf("expected InvalidOperationError, got %v", err)
				}
			}
		})
	}
}
