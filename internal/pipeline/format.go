package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danisheto/anc/internal/models"
)

// NothingChanged is printed when a save wrote nothing.
const NothingChanged = "Nothing was added or updated"

// FormatResults renders one line per changed deck with the counts
// right-aligned to the widest count of the run.
func FormatResults(results []models.DeckResult) string {
	addedWidth, updatedWidth := 1, 1
	for _, r := range results {
		addedWidth = max(addedWidth, len(strconv.Itoa(r.Added)))
		updatedWidth = max(updatedWidth, len(strconv.Itoa(r.Updated)))
	}

	var lines []string
	for _, r := range results {
		if !r.Changed() {
			continue
		}
		lines = append(lines, fmt.Sprintf("%*d added and %*d updated to %s",
			addedWidth, r.Added, updatedWidth, r.Updated, r.Name))
	}
	if len(lines) == 0 {
		return NothingChanged
	}
	return strings.Join(lines, "\n")
}
