package layout

import (
	"regexp"
	"strconv"
	"strings"
)

// Column roles a table header can map to.
const (
	ColumnCandidate = "candidate"
	ColumnMachine   = "machine"
	ColumnHuman     = "human"
)

var (
	candidateLabel = regexp.MustCompile(`(?i)^(?:c|기호|no\.?|후보)?\s*(\d{1,3})\s*번?$`)
	invalidLabels  = []string{"invalid", "void", "무효", "무효표"}
	captionLabels  = []string{
		"계", "합계", "소계", "총계", "유효", "유효표", "유효투표", "투표수",
		"total", "subtotal", "sum", "valid",
	}
)

// ColumnRole maps a header label to a column role, or "" when unknown.
func ColumnRole(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "candidate", "id", "후보자":
		return ColumnCandidate
	case "machine", "classified", "분류된":
		return ColumnMachine
	case "human", "final", "verified", "재확인":
		return ColumnHuman
	}
	return ""
}

// ParseCandidateLabel reads a row label. It returns the ballot number, or
// invalid=true for the invalid-vote row. ok is false when the label is neither.
func ParseCandidateLabel(label string) (id int, invalid bool, ok bool) {
	label = strings.TrimSpace(label)
	lower := strings.ToLower(label)
	for _, l := range invalidLabels {
		if lower == l {
			return 0, true, true
		}
	}

	m := candidateLabel.FindStringSubmatch(label)
	if m == nil {
		return 0, false, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false, false
	}
	return n, false, true
}

// IsCaptionLabel reports a totals or caption row label. Those rows carry sums
// of the candidate rows and are never tallied themselves.
func IsCaptionLabel(label string) bool {
	key := strings.ToLower(strings.Join(strings.Fields(label), ""))
	key = strings.TrimSuffix(key, ":")
	for _, l := range captionLabels {
		if key == l {
			return true
		}
	}
	return false
}
