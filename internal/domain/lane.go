package domain

import "strings"

// Lane partitions every record, envelope and registry row into production
// (registry-of-truth) or sandbox.
type Lane string

const (
	LaneRoT     Lane = "rot"
	LaneSandbox Lane = "sandbox"
)

func ParseLane(raw string) (Lane, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "rot", "production", "prod":
		return LaneRoT, nil
	case "sandbox", "test":
		return LaneSandbox, nil
	}
	return "", Validation(CodeInvalidRequest, "lane must be rot or sandbox")
}

func (l Lane) Valid() bool {
	return l == LaneRoT || l == LaneSandbox
}

// CheckLane fails with LANE_MISMATCH when two linked rows disagree on lane.
func CheckLane(want, got Lane, what string) error {
	if want != got {
		return Validation(CodeLaneMismatch, what+" lane "+string(got)+" does not match "+string(want))
	}
	return nil
}
