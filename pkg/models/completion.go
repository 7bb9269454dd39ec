package models

// AgentType identifies a pipeline stage role.
type AgentType string

const (
	// AgentCoder implements the task.
	AgentCoder AgentType = "coder"
	// AgentReviewer reviews the code changes.
	AgentReviewer AgentType = "reviewer"
	// AgentTester writes and runs tests.
	AgentTester AgentType = "tester"
	// AgentQA performs final validation.
	AgentQA AgentType = "qa"
	// AgentArchitect is registered by external planning agents; it never
	// runs inside the execution pipeline.
	AgentArchitect AgentType = "architect"
)

// Valid returns true if the agent type is a known value.
func (a AgentType) Valid() bool {
	switch a {
	case AgentCoder, AgentReviewer, AgentTester, AgentQA, AgentArchitect:
		return true
	default:
		return false
	}
}

// VerificationMethod selects how a completion criterion is checked.
type VerificationMethod string

const (
	// VerifyStringMatch succeeds when the agent output contains the promise.
	VerifyStringMatch VerificationMethod = "string_match"
	// VerifySemantic asks the agent tool to grade the output yes/no.
	VerifySemantic VerificationMethod = "semantic"
	// VerifyExternal runs a command in the workspace and checks its exit code.
	VerifyExternal VerificationMethod = "external"
	// VerifyMultiStage requires every nested criterion to succeed.
	VerifyMultiStage VerificationMethod = "multi_stage"
)

// Valid returns true if the method is a known value.
func (m VerificationMethod) Valid() bool {
	switch m {
	case VerifyStringMatch, VerifySemantic, VerifyExternal, VerifyMultiStage:
		return true
	default:
		return false
	}
}

// CompletionCriteria is a per-stage exit condition. Method is the
// discriminant; only the fields belonging to the selected method are set.
type CompletionCriteria struct {
	// Promise is the literal string the agent must emit.
	Promise string `json:"promise,omitempty" yaml:"promise,omitempty"`
	// Description explains the criterion; also fed to semantic grading.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Method selects the verification strategy.
	Method VerificationMethod `json:"verification_method" yaml:"verification_method"`
	// Command is the external command to run (Method == external).
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
	// SuccessExitCode is the expected exit code (Method == external).
	SuccessExitCode int `json:"success_exit_code,omitempty" yaml:"success_exit_code,omitempty"`
	// Stages are nested criteria evaluated in order (Method == multi_stage).
	Stages []CompletionCriteria `json:"stages,omitempty" yaml:"stages,omitempty"`
	// MaxIterations overrides the stage iteration budget when > 0.
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
}

// CompletionSpec defines "done" for a task.
type CompletionSpec struct {
	// Outcome is the prose statement of the desired result.
	Outcome string `json:"outcome" yaml:"outcome"`
	// AcceptanceCriteria is the ordered list of acceptance statements.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria,omitempty"`
	// Coder, Reviewer, Tester and QA optionally override the built-in
	// per-role completion checks.
	Coder    *CompletionCriteria `json:"coder,omitempty" yaml:"coder,omitempty"`
	Reviewer *CompletionCriteria `json:"reviewer,omitempty" yaml:"reviewer,omitempty"`
	Tester   *CompletionCriteria `json:"tester,omitempty" yaml:"tester,omitempty"`
	QA       *CompletionCriteria `json:"qa,omitempty" yaml:"qa,omitempty"`
}

// ForRole returns the criteria declared for the given role, or nil.
func (c *CompletionSpec) ForRole(role AgentType) *CompletionCriteria {
	if c == nil {
		return nil
	}
	switch role {
	case AgentCoder:
		return c.Coder
	case AgentReviewer:
		return c.Reviewer
	case AgentTester:
		return c.Tester
	case AgentQA:
		return c.QA
	default:
		return nil
	}
}

// Empty returns true if the spec carries no information at all.
func (c *CompletionSpec) Empty() bool {
	return c == nil || (c.Outcome == "" && len(c.AcceptanceCriteria) == 0 &&
		c.Coder == nil && c.Reviewer == nil && c.Tester == nil && c.QA == nil)
}
