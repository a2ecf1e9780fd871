package autofill

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/smartchecklab/smartcheck/internal/checklist"
)

var (
	// ErrMalformedProposal indicates the model response did not match the
	// tagged result schema. Non-conforming output is a hard failure.
	ErrMalformedProposal = errors.New("autofill: malformed proposal")
)

// ItemProposal is a per-item auto-fill suggestion.
type ItemProposal struct {
	CheckID string `json:"check_id"`
	Checked bool   `json:"checked"`
	Remarks string `json:"remarks"`
}

// OverallProposal carries a single whole-sheet remark.
type OverallProposal struct {
	OverallRemarks string `json:"overall_remarks"`
}

// Proposal is the tagged union emitted by the generative model: exactly one
// of Item or Overall is set.
type Proposal struct {
	Item    *ItemProposal
	Overall *OverallProposal
}

// proposalProbe is the decode target used to discriminate the two shapes.
type proposalProbe struct {
	CheckID        *string `json:"check_id"`
	Checked        *bool   `json:"checked"`
	Remarks        *string `json:"remarks"`
	OverallRemarks *string `json:"overall_remarks"`
}

// DecodeProposals parses and validates a model response. Elements must be
// either a per-item record (check_id + checked) or an overall record
// (overall_remarks); anything else fails the whole call.
func DecodeProposals(data []byte) ([]Proposal, error) {
	var rawElements []json.RawMessage
	if err := json.Unmarshal(data, &rawElements); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProposal, err)
	}

	proposals := make([]Proposal, 0, len(rawElements))
	for index, raw := range rawElements {
		var probe proposalProbe
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrMalformedProposal, index, err)
		}

		hasItemShape := probe.CheckID != nil
		hasOverallShape := probe.OverallRemarks != nil

		switch {
		case hasItemShape && hasOverallShape:
			return nil, fmt.Errorf("%w: element %d mixes both record shapes", ErrMalformedProposal, index)
		case hasItemShape:
			if probe.Checked == nil {
				return nil, fmt.Errorf("%w: element %d is missing checked", ErrMalformedProposal, index)
			}
			item := ItemProposal{
				CheckID: strings.TrimSpace(*probe.CheckID),
				Checked: *probe.Checked,
			}
			if item.CheckID == "" {
				return nil, fmt.Errorf("%w: element %d has an empty check_id", ErrMalformedProposal, index)
			}
			if probe.Remarks != nil {
				item.Remarks = *probe.Remarks
			}
			proposals = append(proposals, Proposal{Item: &item})
		case hasOverallShape:
			proposals = append(proposals, Proposal{Overall: &OverallProposal{OverallRemarks: *probe.OverallRemarks}})
		default:
			return nil, fmt.Errorf("%w: element %d matches neither record shape", ErrMalformedProposal, index)
		}
	}
	return proposals, nil
}

// SplitProposals folds the union into a result set plus the accumulated
// overall remarks. Item ids must be numeric; unknown shapes were already
// rejected at decode time.
func SplitProposals(proposals []Proposal) (checklist.ResultSet, string, error) {
	results := make(checklist.ResultSet)
	overallParts := make([]string, 0, 1)

	for _, proposal := range proposals {
		switch {
		case proposal.Item != nil:
			checkID, err := strconv.ParseInt(proposal.Item.CheckID, 10, 64)
			if err != nil {
				return nil, "", fmt.Errorf("%w: check_id %q is not numeric", ErrMalformedProposal, proposal.Item.CheckID)
			}
			results[checkID] = checklist.ItemResult{
				Checked: proposal.Item.Checked,
				Remarks: proposal.Item.Remarks,
			}
		case proposal.Overall != nil:
			if remark := strings.TrimSpace(proposal.Overall.OverallRemarks); remark != "" {
				overallParts = append(overallParts, remark)
			}
		}
	}

	return results, strings.Join(overallParts, "\n"), nil
}
