package durability

import "fmt"

// --------------------------------------------------------------------------
// Legacy thresholds
// --------------------------------------------------------------------------

// ReplicateTo is the number of replicas that must hold a mutation in memory
// (or on disk) before it counts as replicated
type ReplicateTo uint8

const (
	ReplicateToNone ReplicateTo = iota
	ReplicateToOne
	ReplicateToTwo
	ReplicateToThree
)

// Threshold returns the numeric replica count of the requirement
func (r ReplicateTo) Threshold() int { return int(r) }

// PersistTo is the number of nodes (primary included) that must have a
// mutation persisted to disk
type PersistTo uint8

const (
	PersistToNone PersistTo = iota
	PersistToOne
	PersistToTwo
	PersistToThree
)

// Threshold returns the numeric node count of the requirement
func (p PersistTo) Threshold() int { return int(p) }

// --------------------------------------------------------------------------
// Composite levels
// --------------------------------------------------------------------------

// Level is a composite durability level whose thresholds derive from the
// partition's replica count
type Level uint8

const (
	LevelNone Level = iota
	// LevelMajority: the mutation is replicated to a majority of copies
	LevelMajority
	// LevelMajorityAndPersistActive: replicated to a majority and persisted
	// on the primary
	LevelMajorityAndPersistActive
	// LevelPersistToMajority: persisted on a majority of copies
	LevelPersistToMajority
)

// String returns the string representation of a Level
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelMajority:
		return "majority"
	case LevelMajorityAndPersistActive:
		return "majorityAndPersistActive"
	case LevelPersistToMajority:
		return "persistToMajority"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Requirement
// --------------------------------------------------------------------------

// Requirement is the durability demand attached to a mutation at submission
// time; immutable thereafter. Either the legacy pair or a composite level
// is set, not both.
type Requirement struct {
	ReplicateTo ReplicateTo
	PersistTo   PersistTo
	Level       Level
}

// IsZero reports whether no durability was requested
func (r Requirement) IsZero() bool {
	return r.ReplicateTo == ReplicateToNone && r.PersistTo == PersistToNone && r.Level == LevelNone
}

// Validate rejects requirements mixing both shapes or exceeding the
// partition's replica count
func (r Requirement) Validate(numReplicas int) error {
	if r.Level != LevelNone && (r.ReplicateTo != ReplicateToNone || r.PersistTo != PersistToNone) {
		return fmt.Errorf("cannot combine a durability level with replicateTo/persistTo")
	}
	if r.ReplicateTo.Threshold() > numReplicas {
		return fmt.Errorf("replicateTo %d exceeds the partition's %d replicas", r.ReplicateTo.Threshold(), numReplicas)
	}
	if r.PersistTo.Threshold() > numReplicas+1 {
		return fmt.Errorf("persistTo %d exceeds the partition's %d copies", r.PersistTo.Threshold(), numReplicas+1)
	}
	return nil
}

// thresholds resolves the requirement into concrete poll targets:
// how many nodes must report the cas persisted, how many replicas must
// report it replicated, and whether the primary itself must have persisted.
// Majority is floor(totalReplicaCount/2)+1 over the replica count.
func (r Requirement) thresholds(numReplicas int) (persist, replicate int, persistActive bool) {
	majority := numReplicas/2 + 1

	switch r.Level {
	case LevelMajority:
		return 0, majority, false
	case LevelMajorityAndPersistActive:
		return 1, majority, true
	case LevelPersistToMajority:
		return majority, 0, false
	}

	return r.PersistTo.Threshold(), r.ReplicateTo.Threshold(), false
}
