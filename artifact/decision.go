package artifact

import "github.com/deepnoodle-ai/forge"

// DefaultRepairCeiling bounds consecutive in-place repairs before a full
// regeneration is forced and the counter resets.
const DefaultRepairCeiling = 2

// FailureCategory groups error classes by where the fault lies.
type FailureCategory string

const (
	// CategoryAdaptive failures are attributable to the generated logic
	// itself and are candidates for repair.
	CategoryAdaptive FailureCategory = "adaptive"
	// CategoryExtrinsic failures come from upstream services or the
	// environment; repairing the program cannot fix them.
	CategoryExtrinsic FailureCategory = "extrinsic"
	// CategoryIntrinsic failures reflect declared capability or policy
	// limits; they are returned unchanged.
	CategoryIntrinsic FailureCategory = "intrinsic"
)

// Categorize maps an error class to its failure category.
func Categorize(class forge.ErrorClass) FailureCategory {
	switch class {
	case forge.ErrContractViolation, forge.ErrInvalidCode, forge.ErrExecution,
		forge.ErrGuardrailViolation, forge.ErrDomain:
		return CategoryAdaptive
	case forge.ErrTransport, forge.ErrTimeout, forge.ErrWorkerCrash, forge.ErrWorkerTimeout:
		return CategoryExtrinsic
	default:
		return CategoryIntrinsic
	}
}

// RepairAction is the store's verdict on a failed execution.
type RepairAction string

const (
	ActionRepair     RepairAction = "repair"
	ActionRegenerate RepairAction = "regenerate"
	// ActionPassThrough returns the failure unchanged.
	ActionPassThrough RepairAction = "pass_through"
)

// DecideRepair chooses between in-place repair and full regeneration for
// one failure class, consuming the artifact's repair counter. Adaptive
// failures repair in place while the counter is under the ceiling, then
// force a regeneration. Extrinsic and intrinsic failures pass through
// unchanged and never touch the counter.
func DecideRepair(a *Artifact, class forge.ErrorClass, ceiling int) RepairAction {
	if ceiling <= 0 {
		ceiling = DefaultRepairCeiling
	}
	if Categorize(class) != CategoryAdaptive {
		return ActionPassThrough
	}
	if a.RepairCountSinceRegen < ceiling {
		a.RepairCountSinceRegen++
		return ActionRepair
	}
	return ActionRegenerate
}
