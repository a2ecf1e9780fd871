package autofill

import (
	"errors"
	"testing"
)

func TestDecodeProposalsAcceptsBothRecordShapes(t *testing.T) {
	payload := []byte(`[
		{"check_id": "7", "checked": true, "remarks": "confirmed"},
		{"check_id": "9", "checked": false},
		{"overall_remarks": "two issues remain"}
	]`)

	proposals, err := DecodeProposals(payload)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if len(proposals) != 3 {
		t.Fatalf("expected 3 proposals, got %d", len(proposals))
	}
	if proposals[0].Item == nil || proposals[0].Item.CheckID != "7" || !proposals[0].Item.Checked {
		t.Fatalf("unexpected first proposal: %+v", proposals[0])
	}
	if proposals[1].Item == nil || proposals[1].Item.Checked {
		t.Fatalf("unexpected second proposal: %+v", proposals[1])
	}
	if proposals[2].Overall == nil || proposals[2].Overall.OverallRemarks != "two issues remain" {
		t.Fatalf("unexpected third proposal: %+v", proposals[2])
	}
}

func TestDecodeProposalsRejectsMalformedRecords(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
	}{
		{name: "not an array", payload: `{"check_id": "1", "checked": true}`},
		{name: "mixed shapes", payload: `[{"check_id": "1", "checked": true, "overall_remarks": "x"}]`},
		{name: "missing checked", payload: `[{"check_id": "1"}]`},
		{name: "empty check id", payload: `[{"check_id": "  ", "checked": true}]`},
		{name: "neither shape", payload: `[{"note": "free text"}]`},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := DecodeProposals([]byte(testCase.payload)); !errors.Is(err, ErrMalformedProposal) {
				t.Fatalf("expected ErrMalformedProposal, got %v", err)
			}
		})
	}
}

func TestSplitProposalsFoldsItemsAndRemarks(t *testing.T) {
	proposals := []Proposal{
		itemProposal("3", true, "fine"),
		itemProposal("5", false, "missing evidence"),
		overallProposal("  first note "),
		overallProposal("second note"),
		overallProposal("   "),
	}

	results, remarks, err := SplitProposals(proposals)
	if err != nil {
		t.Fatalf("unexpected split error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[3].Checked || results[3].Remarks != "fine" {
		t.Fatalf("unexpected result for item 3: %+v", results[3])
	}
	if results[5].Checked || results[5].Remarks != "missing evidence" {
		t.Fatalf("unexpected result for item 5: %+v", results[5])
	}
	if remarks != "first note\nsecond note" {
		t.Fatalf("unexpected overall remarks: %q", remarks)
	}
}

func TestSplitProposalsRejectsNonNumericID(t *testing.T) {
	if _, _, err := SplitProposals([]Proposal{itemProposal("abc", true, "")}); !errors.Is(err, ErrMalformedProposal) {
		t.Fatalf("expected ErrMalformedProposal, got %v", err)
	}
}
