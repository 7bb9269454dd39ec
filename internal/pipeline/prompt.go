package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/specflow/specflow/pkg/models"
)

// agentNames maps roles to the agent persona named in the prompt.
var agentNames = map[models.AgentType]string{
	models.AgentArchitect: "specflow-architect",
	models.AgentCoder:     "specflow-coder",
	models.AgentReviewer:  "specflow-reviewer",
	models.AgentTester:    "specflow-tester",
	models.AgentQA:        "specflow-qa",
}

// stageInstructions is the verbatim role guidance appended to each prompt.
var stageInstructions = map[models.AgentType]string{
	models.AgentCoder: `
Implement the task requirements. Follow the specification and plan exactly.

1. Read the relevant files to understand the codebase
2. Implement the required changes
3. Ensure code follows project conventions
4. Commit your changes with a descriptive message

When complete, output: IMPLEMENTATION COMPLETE

If you encounter blockers, output: BLOCKED: <reason>
`,
	models.AgentReviewer: `
Review the code changes made for this task.

1. Check that implementation matches the specification
2. Look for bugs, security issues, and code quality problems
3. Verify coding standards are followed
4. Check for edge cases and error handling

Output one of:
- REVIEW PASSED - if code is ready for testing
- REVIEW FAILED: <issues> - if there are problems to fix
`,
	models.AgentTester: `
Write and run tests for this task.

1. Review the implementation
2. Write unit and integration tests covering the changes
3. Run the full test suite
4. Fix any failing tests caused by this task

Output one of:
- TESTS PASSED - if all tests pass
- TESTS FAILED: <details> - if tests fail
`,
	models.AgentQA: `
Perform final QA validation for this task.

1. Verify the implementation satisfies every acceptance criterion
2. Exercise the feature end to end
3. Check for regressions in related functionality

Output one of:
- QA PASSED - if the task is complete
- QA FAILED: <issues> - if problems remain
`,
}

// buildPrompt assembles the full prompt for one stage iteration: task
// context, workspace, spec and plan contents, the follow-up directive and
// the role instructions.
func (p *Pipeline) buildPrompt(task *models.Task, stage Stage, workspace string, iteration int) string {
	specDir := p.specDir(task.SpecID)
	specContent := readOr(filepath.Join(specDir, "spec.md"), "No specification found.")
	planContent := readOr(filepath.Join(specDir, "plan.md"), "No implementation plan found.")

	agentName := agentNames[stage.Role]
	if agentName == "" {
		agentName = "specflow-coder"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s agent working on task %s.\n\n", agentName, task.ID)
	fmt.Fprintf(&b, "## Task Information\n")
	fmt.Fprintf(&b, "- **Task ID**: %s\n", task.ID)
	fmt.Fprintf(&b, "- **Title**: %s\n", task.Title)
	fmt.Fprintf(&b, "- **Description**: %s\n", task.Description)
	fmt.Fprintf(&b, "- **Priority**: %d\n", task.Priority)
	fmt.Fprintf(&b, "- **Iteration**: %d/%d\n", iteration, stage.MaxIterations)
	fmt.Fprintf(&b, "- **Stage**: %s\n\n", stage.Name)
	fmt.Fprintf(&b, "## Working Directory\nYou are working in: %s\n\n", workspace)
	fmt.Fprintf(&b, "## Specification\n%s\n\n", specContent)
	fmt.Fprintf(&b, "## Implementation Plan\n%s\n\n", planContent)
	b.WriteString(followupDirective(task))

	if cs := task.CompletionSpec; !cs.Empty() {
		fmt.Fprintf(&b, "## Definition of Done\n")
		if cs.Outcome != "" {
			fmt.Fprintf(&b, "Outcome: %s\n", cs.Outcome)
		}
		for _, c := range cs.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Your Task\n")
	b.WriteString(stageInstructions[stage.Role])
	return b.String()
}

// followupDirective tells the agent how to file out-of-scope work as new
// tasks instead of leaving TODOs.
func followupDirective(task *models.Task) string {
	return fmt.Sprintf(`## Creating Follow-up Tasks

When you encounter work that should be done but is outside your current task scope,
you may create a follow-up task. But FIRST check if a similar task already exists:

`+"```bash"+`
# Step 1: ALWAYS check existing tasks first
specflow list-tasks --spec %s --json

# Step 2: Only if no similar task exists, create a new one
specflow task-followup <CATEGORY>-<NUMBER> "%s" "Task title" \
    --parent %s \
    --priority <2|3> \
    --description "Detailed description of what needs to be done"
`+"```"+`

**Categories for follow-up tasks:**
- `+"`PLACEHOLDER-xxx`"+`: Code you marked with TODO or unimplemented stubs
- `+"`TECH-DEBT-xxx`"+`: Technical debt you noticed
- `+"`REFACTOR-xxx`"+`: Code that should be refactored
- `+"`TEST-GAP-xxx`"+`: Missing test coverage
- `+"`EDGE-CASE-xxx`"+`: Edge cases that need handling
- `+"`DOC-xxx`"+`: Documentation gaps

**IMPORTANT:**
- Before creating a task, review the existing task list to avoid duplicates.
- If a similar task exists, skip creation or note it in your output.
- Always create tasks rather than leaving undocumented TODOs in code.
- Use priority 2 for important issues, priority 3 for nice-to-have improvements.

`, task.SpecID, task.SpecID, task.ID)
}

func readOr(path, fallback string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	return string(data)
}
