// Package reconcile diffs a freshly generated artifact against its stored version.
package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/dukex/regcycle/pkg/canonical"
	"github.com/dukex/regcycle/pkg/models"
)

// ErrCountMismatch is returned by Validate when counters disagree with the items.
var ErrCountMismatch = errors.New("reconciliation counters do not match items")

// Reconcile classifies every existing and incoming item as matched, added, removed or modified.
// Items pair by identical ID first; remaining items pair by identical name.
func Reconcile(existing, incoming []models.ArtifactItem) *models.ReconciliationResult {
	existingPair := make([]int, len(existing))
	incomingUsed := make([]bool, len(incoming))

	for i := range existingPair {
		existingPair[i] = -1
	}

	byID := make(map[string]int, len(incoming))
	for j, item := range incoming {
		if item.ID == "" {
			continue
		}

		if _, exists := byID[item.ID]; !exists {
			byID[item.ID] = j
		}
	}

	for i, item := range existing {
		if item.ID == "" {
			continue
		}

		if j, ok := byID[item.ID]; ok && !incomingUsed[j] {
			existingPair[i] = j
			incomingUsed[j] = true
		}
	}

	byName := make(map[string][]int)
	for j, item := range incoming {
		if !incomingUsed[j] && item.Name != "" {
			byName[item.Name] = append(byName[item.Name], j)
		}
	}

	for i, item := range existing {
		if existingPair[i] >= 0 || item.Name == "" {
			continue
		}

		candidates := byName[item.Name]
		if len(candidates) == 0 {
			continue
		}

		j := candidates[0]
		byName[item.Name] = candidates[1:]
		existingPair[i] = j
		incomingUsed[j] = true
	}

	result := &models.ReconciliationResult{
		Items: make([]models.ReconciliationItem, 0, len(existing)+len(incoming)),
	}
	keys := make(map[string]int)

	for i := range existing {
		old := existing[i]

		if existingPair[i] < 0 {
			appendItem(result, keys, models.ReconciliationItem{
				Key:           itemKey(old),
				Status:        models.ReconciliationRemoved,
				ExistingValue: &old,
			})

			continue
		}

		updated := incoming[existingPair[i]]
		item := models.ReconciliationItem{
			Key:           itemKey(old),
			Status:        models.ReconciliationMatched,
			ExistingValue: &old,
			NewValue:      &updated,
		}

		if diffs := Compare(old, updated); len(diffs) > 0 {
			item.Status = models.ReconciliationModified
			item.Differences = diffs
		}

		appendItem(result, keys, item)
	}

	for j := range incoming {
		if incomingUsed[j] {
			continue
		}

		added := incoming[j]
		appendItem(result, keys, models.ReconciliationItem{
			Key:      itemKey(added),
			Status:   models.ReconciliationAdded,
			NewValue: &added,
		})
	}

	return result
}

// Compare lists the differing fields of two paired items, excluding the ID.
func Compare(existing, incoming models.ArtifactItem) []models.FieldDifference {
	var diffs []models.FieldDifference

	if existing.Name != incoming.Name {
		diffs = append(diffs, models.FieldDifference{
			Field:         "name",
			ExistingValue: existing.Name,
			NewValue:      incoming.Name,
		})
	}

	fields := make([]string, 0, len(existing.Fields)+len(incoming.Fields))
	seen := make(map[string]bool, cap(fields))

	for _, m := range []map[string]any{existing.Fields, incoming.Fields} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}

	sort.Strings(fields)

	for _, field := range fields {
		oldValue, oldOK := existing.Fields[field]
		newValue, newOK := incoming.Fields[field]

		if oldOK == newOK && canonical.Equal(oldValue, newValue) {
			continue
		}

		diffs = append(diffs, models.FieldDifference{
			Field:         field,
			ExistingValue: oldValue,
			NewValue:      newValue,
		})
	}

	return diffs
}

// Validate checks that each counter equals the number of items with that status
// and that the counters sum to the item count.
func Validate(r *models.ReconciliationResult) error {
	counts := map[models.ReconciliationStatus]int{}
	for _, item := range r.Items {
		counts[item.Status]++
	}

	if counts[models.ReconciliationMatched] != r.Matched ||
		counts[models.ReconciliationAdded] != r.Added ||
		counts[models.ReconciliationRemoved] != r.Removed ||
		counts[models.ReconciliationModified] != r.Modified {
		return fmt.Errorf("%w: matched=%d/%d added=%d/%d removed=%d/%d modified=%d/%d", ErrCountMismatch,
			r.Matched, counts[models.ReconciliationMatched],
			r.Added, counts[models.ReconciliationAdded],
			r.Removed, counts[models.ReconciliationRemoved],
			r.Modified, counts[models.ReconciliationModified])
	}

	if r.Matched+r.Added+r.Removed+r.Modified != len(r.Items) {
		return fmt.Errorf("%w: counters sum to %d, %d items", ErrCountMismatch,
			r.Matched+r.Added+r.Removed+r.Modified, len(r.Items))
	}

	return nil
}

// appendItem records item, bumps its counter and keeps keys unique within the result.
func appendItem(result *models.ReconciliationResult, keys map[string]int, item models.ReconciliationItem) {
	keys[item.Key]++
	if n := keys[item.Key]; n > 1 {
		item.Key = item.Key + "#" + strconv.Itoa(n)
	}

	switch item.Status {
	case models.ReconciliationMatched:
		result.Matched++
	case models.ReconciliationAdded:
		result.Added++
	case models.ReconciliationRemoved:
		result.Removed++
	case models.ReconciliationModified:
		result.Modified++
	}

	result.Items = append(result.Items, item)
}

func itemKey(item models.ArtifactItem) string {
	if item.ID != "" {
		return item.ID
	}

	return "name:" + item.Name
}
