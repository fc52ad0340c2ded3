package verify

import (
	"testing"

	"github.com/kalsky/shadesd/internal/shade"
)

func TestAtTarget_ExactMatch(t *testing.T) {
	tests := []struct {
		name    string
		current int
		target  int
		want    bool
	}{
		{"exact_zero", 0, 0, true},
		{"exact_hundred", 100, 100, true},
		{"exact_mid", 50, 50, true},
		{"off_by_one_low", 99, 100, false},
		{"off_by_one_high", 51, 50, false},
		{"settling_short_of_closed", 1, 0, false},
		{"way_off", 0, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := shade.Reading{Status: shade.StatusPartiallyOpen, Position: shade.Pos(tt.current)}
			target := Target{Position: shade.Pos(tt.target)}

			if got := AtTarget(r, target); got != tt.want {
				t.Errorf("AtTarget(%d, %d) = %v, want %v", tt.current, tt.target, got, tt.want)
			}
		})
	}
}

func TestAtTarget_BinaryFallback(t *testing.T) {
	tests := []struct {
		name    string
		reading shade.Reading
		target  Target
		want    bool
	}{
		{
			name:    "no_member_position_open_matches_direction",
			reading: shade.Reading{Status: shade.StatusOpen},
			target:  Target{Position: shade.Pos(100), Direction: DirectionOpen},
			want:    true,
		},
		{
			name:    "no_member_position_closed_against_open_direction",
			reading: shade.Reading{Status: shade.StatusClosed},
			target:  Target{Position: shade.Pos(100), Direction: DirectionOpen},
			want:    false,
		},
		{
			name:    "indeterminate_target_closed_direction",
			reading: shade.Reading{Status: shade.StatusClosed},
			target:  Target{Direction: DirectionClose},
			want:    true,
		},
		{
			name:    "indeterminate_target_no_direction_never_matches",
			reading: shade.Reading{Status: shade.StatusOpen, Position: shade.Pos(100)},
			target:  Target{Direction: DirectionNone},
			want:    false,
		},
		{
			name:    "transitional_status_fails_binary_check",
			reading: shade.Reading{Status: shade.StatusOpening},
			target:  Target{Position: shade.Pos(100), Direction: DirectionOpen},
			want:    false,
		},
		{
			// Mid-range target with no reported member position: no
			// binary criterion exists for 50%, so this cannot pass.
			name:    "mid_target_without_member_position",
			reading: shade.Reading{Status: shade.StatusPartiallyOpen},
			target:  Target{Position: shade.Pos(50), Direction: DirectionNone},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AtTarget(tt.reading, tt.target); got != tt.want {
				t.Errorf("AtTarget() = %v, want %v", got, tt.want)
			}
		})
	}
}
