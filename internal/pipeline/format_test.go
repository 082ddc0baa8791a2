package pipeline

import (
	"testing"

	"github.com/danisheto/anc/internal/models"
)

func TestFormatResults(t *testing.T) {
	tests := []struct {
		name    string
		results []models.DeckResult
		want    string
	}{
		{"empty", nil, NothingChanged},
		{"all unchanged", []models.DeckResult{{Name: "a"}}, NothingChanged},
		{
			name:    "single",
			results: []models.DeckResult{{Name: "example", Added: 1}},
			want:    "1 added and 0 updated to example",
		},
		{
			name: "padded to widest count",
			results: []models.DeckResult{
				{Name: "big", Added: 120, Updated: 3},
				{Name: "quiet"},
				{Name: "small", Added: 4, Updated: 15},
			},
			want: "120 added and  3 updated to big\n  4 added and 15 updated to small",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatResults(tt.results); got != tt.want {
				t.Errorf("FormatResults = %q, want %q", got, tt.want)
			}
		})
	}
}
