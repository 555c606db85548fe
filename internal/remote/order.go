package remote

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/marcus/coursesync/internal/models"
)

// SortDocuments orders docs in place by orderBy ("field" or "-field").
// "createdAt" and an empty orderBy sort by creation time. Ties fall back to id
// so the order is stable across calls.
func SortDocuments(docs []models.Document, orderBy string) {
	desc := strings.HasPrefix(orderBy, "-")
	field := strings.TrimPrefix(orderBy, "-")

	slices.SortStableFunc(docs, func(a, b models.Document) int {
		c := compareField(a, b, field)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if desc {
			return -c
		}
		return c
	})
}

func compareField(a, b models.Document, field string) int {
	if field == "" || field == "createdAt" {
		return a.CreatedAt.Compare(b.CreatedAt)
	}
	av, bv := a.Fields[field], b.Fields[field]
	switch x := av.(type) {
	case string:
		if y, ok := bv.(string); ok {
			if ta, errA := time.Parse(time.RFC3339Nano, x); errA == nil {
				if tb, errB := time.Parse(time.RFC3339Nano, y); errB == nil {
					return ta.Compare(tb)
				}
			}
			return cmp.Compare(x, y)
		}
	case float64, int64, int:
		return cmp.Compare(a.Int(field), b.Int(field))
	}
	// Documents missing the field sort first
	switch {
	case av == nil && bv != nil:
		return -1
	case av != nil && bv == nil:
		return 1
	}
	return 0
}
