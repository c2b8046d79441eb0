package core

import (
	"errors"
	"testing"
)

func TestNewRoomID(t *testing.T) {
	seen := make(map[RoomID]bool)
	for i := 0; i < 100; i++ {
		id := NewRoomID()
		if !id.Valid() {
			t.Fatalf("generated invalid room id %q", id)
		}
		seen[id] = true
	}
	if len(seen) < 95 {
		t.Errorf("room ids collide too often: %d unique of 100", len(seen))
	}
}

func TestParseRoomID(t *testing.T) {
	tests := []struct {
		input string
		want  RoomID
		ok    bool
	}{
		{"ABCD1234", "ABCD1234", true},
		{" abcd1234\n", "ABCD1234", true},
		{"ABC123", "", false},
		{"ABCD12345", "", false},
		{"ABCD-234", "", false},
		{"ÄBCD1234", "", false},
		{"abcdefgı", "", false},
		{"abcdefſ", "", false},
		{"aBcD1z9y", "ABCD1Z9Y", true},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRoomID(tt.input)
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got != tt.want {
					t.Errorf("got %q, want %q", got, tt.want)
				}
				return
			}
			var invalid *InvalidRoomIDError
			if !errors.As(err, &invalid) {
				t.Errorf("expected InvalidRoomIDError, got %v", err)
			}
		})
	}
}
