package domain

// AllocationPolicy selects how Available treats over-committed yarns. The
// two behaviors both existed in earlier schema generations, so the choice is
// an explicit configuration rather than an implementation detail.
type AllocationPolicy int

const (
	// AllowNegative reports over-commitment as a negative availability.
	AllowNegative AllocationPolicy = iota
	// ClampToZero floors availability at zero.
	ClampToZero
)

// TotalAssigned sums the committed amount across every project drawing from
// the given yarn.
func TotalAssigned(s Snapshot, yarnID int) int {
	total := 0
	for _, u := range s.Usages {
		if u.YarnID == yarnID {
			total += u.Amount
		}
	}
	return total
}

// AssignedInProject returns the amount of the yarn committed to the given
// project, or 0 when no usage row exists for the pair.
func AssignedInProject(s Snapshot, yarnID, projectID int) int {
	for _, u := range s.Usages {
		if u.YarnID == yarnID && u.ProjectID == projectID {
			return u.Amount
		}
	}
	return 0
}

// Available computes how much of a yarn remains un-committed: its stated
// total minus everything assigned elsewhere. When excludeProjectID is
// non-nil, the amount that project already holds is given back, so editing
// an existing assignment is never blocked by its own prior value.
func Available(s Snapshot, yarnID int, excludeProjectID *int, policy AllocationPolicy) (int, error) {
	yarn, ok := s.FindYarn(yarnID)
	if !ok {
		return 0, ErrNotFound{Entity: EntityYarn, ID: yarnID}
	}
	assigned := TotalAssigned(s, yarnID)
	if excludeProjectID != nil {
		assigned -= AssignedInProject(s, yarnID, *excludeProjectID)
	}
	available := yarn.Amount - assigned
	if policy == ClampToZero && available < 0 {
		available = 0
	}
	return available, nil
}
