// Package workflow implements the phase pipeline: plan, build, and test
// executors over a shared durable run record, plus the operations they
// delegate to the coding agent.
package workflow

// Kind names one workflow: a single phase or a composite chain.
type Kind string

const (
	KindPlan          Kind = "plan"
	KindBuild         Kind = "build"
	KindTest          Kind = "test"
	KindPlanBuild     Kind = "plan_build"
	KindPlanBuildTest Kind = "plan_build_test"
)

// Valid reports whether k names a known workflow.
func (k Kind) Valid() bool {
	switch k {
	case KindPlan, KindBuild, KindTest, KindPlanBuild, KindPlanBuildTest:
		return true
	}
	return false
}

// PhaseNames returns the ordered phase chain for k.
func (k Kind) PhaseNames() []string {
	switch k {
	case KindPlan:
		return []string{"plan"}
	case KindBuild:
		return []string{"build"}
	case KindTest:
		return []string{"test"}
	case KindPlanBuild:
		return []string{"plan", "build"}
	case KindPlanBuildTest:
		return []string{"plan", "build", "test"}
	}
	return nil
}
