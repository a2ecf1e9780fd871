package checklist

import "strings"

// Merge reconciles an existing result with a newly proposed one for the same
// item. A positive checked signal from either side wins; remarks accumulate
// rather than overwrite.
func Merge(existing, proposed ItemResult) ItemResult {
	merged := ItemResult{
		Checked: existing.Checked || proposed.Checked,
	}
	switch {
	case existing.Remarks == "":
		merged.Remarks = strings.TrimSpace(proposed.Remarks)
	case proposed.Remarks == "":
		merged.Remarks = strings.TrimSpace(existing.Remarks)
	default:
		merged.Remarks = strings.TrimSpace(existing.Remarks + "\n" + proposed.Remarks)
	}
	return merged
}

// MergeSets folds a set of proposals into a base result set. Items absent
// from the base are taken as proposed; items present are merged per item.
// The base set is not mutated.
func MergeSets(base, proposals ResultSet) ResultSet {
	merged := make(ResultSet, len(base)+len(proposals))
	for checkID, result := range base {
		merged[checkID] = result
	}
	for checkID, proposed := range proposals {
		if existing, ok := merged[checkID]; ok {
			merged[checkID] = Merge(existing, proposed)
			continue
		}
		merged[checkID] = proposed
	}
	return merged
}
