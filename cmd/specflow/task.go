package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/pkg/models"
)

var (
	taskDescription    string
	taskPriority       int
	taskDependencies   string
	taskAssignee       string
	taskOutcome        string
	taskAcceptance     []string
	taskCompletionFile string
	followupParent     string
	listTasksSpec      string
	listTasksStatus    string
)

// roleCriteriaFlags holds the per-role completion flag values.
type roleCriteriaFlags struct {
	promise      string
	verification string
	command      string
}

var taskRoleFlags = map[models.AgentType]*roleCriteriaFlags{
	models.AgentCoder:    {},
	models.AgentReviewer: {},
	models.AgentTester:   {},
	models.AgentQA:       {},
}

// followupCategories maps a task id prefix to its follow-up category.
var followupCategories = map[string]string{
	"PLACEHOLDER-": "placeholder",
	"TECH-DEBT-":   "tech-debt",
	"REFACTOR-":    "refactor",
	"TEST-GAP-":    "test-gap",
	"EDGE-CASE-":   "edge-case",
	"DOC-":         "doc",
}

var taskCreateCmd = &cobra.Command{
	Use:   "task-create <id> <spec_id> <title>",
	Short: "Create a task",
	Long: `Create a task under a specification.

Completion criteria may be declared inline or loaded from a YAML/JSON file;
inline flags override file values.

Examples:
  specflow task-create TASK-001 user-auth "Add login endpoint" --priority 1
  specflow task-create TASK-002 user-auth "Hash passwords" \
      --dependencies TASK-001 \
      --outcome "Passwords stored as bcrypt hashes" \
      --tester-verification external --tester-command "go test ./..."`,
	Args: cobra.ExactArgs(3),
	RunE: runTaskCreate,
}

var taskFollowupCmd = &cobra.Command{
	Use:   "task-followup <id> <spec_id> <title>",
	Short: "Create a follow-up task discovered during execution",
	Long: `Create a follow-up task. The category is detected from the id prefix
(PLACEHOLDER-, TECH-DEBT-, REFACTOR-, TEST-GAP-, EDGE-CASE-, DOC-) and the
task implicitly depends on its --parent.

Example:
  specflow task-followup TECH-DEBT-001 user-auth "Deduplicate validators" --parent TASK-003`,
	Args: cobra.ExactArgs(3),
	RunE: runTaskFollowup,
}

var taskUpdateCmd = &cobra.Command{
	Use:   "task-update <id> <status>",
	Short: "Set a task's status",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskUpdate,
}

var taskImportCmd = &cobra.Command{
	Use:   "task-import <spec_id>",
	Short: "Import tasks from the spec's tasks.md",
	Long: `Parse specs/<spec_id>/tasks.md and create every task not already in
the database. Task blocks use "### Task: TASK-XXX" headings with **Title**,
**Description**, **Priority**, **Dependencies** and **Assignee** fields.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskImport,
}

var listTasksCmd = &cobra.Command{
	Use:   "list-tasks",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runListTasks,
}

func registerTaskFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&taskDescription, "description", "", "Detailed description")
	cmd.Flags().IntVar(&taskPriority, "priority", models.PriorityMedium, "Priority: 1 (high) to 3 (low)")
	cmd.Flags().StringVar(&taskDependencies, "dependencies", "", "Comma-separated task ids this task depends on")
	cmd.Flags().StringVar(&taskAssignee, "assignee", "", "Agent role assigned to the task")
	cmd.Flags().StringVar(&taskOutcome, "outcome", "", "Prose statement of the desired result")
	cmd.Flags().StringArrayVar(&taskAcceptance, "acceptance-criteria", nil, "Acceptance criterion (repeatable)")
	cmd.Flags().StringVar(&taskCompletionFile, "completion-file", "", "YAML or JSON completion spec file")
	for role, flags := range taskRoleFlags {
		r := string(role)
		cmd.Flags().StringVar(&flags.promise, r+"-promise", "", "Literal string the "+r+" must emit")
		cmd.Flags().StringVar(&flags.verification, r+"-verification", "", "Verification method for the "+r+" stage")
		cmd.Flags().StringVar(&flags.command, r+"-command", "", "External verification command for the "+r+" stage")
	}
}

func init() {
	registerTaskFlags(taskCreateCmd)
	registerTaskFlags(taskFollowupCmd)
	taskFollowupCmd.Flags().StringVar(&followupParent, "parent", "", "Task that discovered this follow-up")

	listTasksCmd.Flags().StringVar(&listTasksSpec, "spec", "", "Filter by spec id")
	listTasksCmd.Flags().StringVar(&listTasksStatus, "status", "", "Filter by status")
}

// buildCompletionSpec combines --completion-file with the inline flags.
func buildCompletionSpec() (*models.CompletionSpec, error) {
	cs := &models.CompletionSpec{}
	if taskCompletionFile != "" {
		data, err := os.ReadFile(taskCompletionFile)
		if err != nil {
			return nil, fmt.Errorf("read completion file: %w", err)
		}
		if err := yaml.Unmarshal(data, cs); err != nil {
			return nil, errs.Wrap(errs.KindInvalidArgument, err, "parse completion file %s", taskCompletionFile)
		}
	}
	if taskOutcome != "" {
		cs.Outcome = taskOutcome
	}
	cs.AcceptanceCriteria = append(cs.AcceptanceCriteria, taskAcceptance...)

	for role, flags := range taskRoleFlags {
		if flags.promise == "" && flags.verification == "" && flags.command == "" {
			continue
		}
		criteria := criteriaSlot(cs, role)
		if *criteria == nil {
			*criteria = &models.CompletionCriteria{}
		}
		if flags.promise != "" {
			(*criteria).Promise = flags.promise
		}
		if flags.verification != "" {
			method := models.VerificationMethod(flags.verification)
			if !method.Valid() {
				return nil, errs.New(errs.KindInvalidArgument,
					"invalid verification method %q for %s", flags.verification, role)
			}
			(*criteria).Method = method
		}
		if flags.command != "" {
			(*criteria).Command = flags.command
			if (*criteria).Method == "" {
				(*criteria).Method = models.VerifyExternal
			}
		}
		if (*criteria).Method == "" {
			(*criteria).Method = models.VerifyStringMatch
		}
	}

	if cs.Empty() {
		return nil, nil
	}
	return cs, nil
}

// criteriaSlot returns the address of the per-role criteria field.
func criteriaSlot(cs *models.CompletionSpec, role models.AgentType) **models.CompletionCriteria {
	switch role {
	case models.AgentCoder:
		return &cs.Coder
	case models.AgentReviewer:
		return &cs.Reviewer
	case models.AgentTester:
		return &cs.Tester
	default:
		return &cs.QA
	}
}

// detectFollowupCategory derives the follow-up category from the task id
// prefix.
func detectFollowupCategory(id string) string {
	for prefix, cat := range followupCategories {
		if strings.HasPrefix(id, prefix) {
			return cat
		}
	}
	return "followup"
}

func splitDependencies(s string) []string {
	if s == "" {
		return nil
	}
	var deps []string
	for _, d := range strings.Split(s, ",") {
		if d = strings.TrimSpace(d); d != "" {
			deps = append(deps, d)
		}
	}
	return deps
}

func newTaskFromFlags(id, specID, title string) (*models.Task, error) {
	if taskPriority < models.PriorityHigh || taskPriority > models.PriorityLow {
		return nil, errs.New(errs.KindInvalidArgument, "priority must be 1, 2 or 3, got %d", taskPriority)
	}
	completion, err := buildCompletionSpec()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &models.Task{
		ID:             id,
		SpecID:         specID,
		Title:          title,
		Description:    taskDescription,
		Status:         models.TaskStatusTodo,
		Priority:       taskPriority,
		Dependencies:   splitDependencies(taskDependencies),
		Assignee:       taskAssignee,
		CreatedAt:      now,
		UpdatedAt:      now,
		CompletionSpec: completion,
	}, nil
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	task, err := newTaskFromFlags(args[0], args[1], args[2])
	if err != nil {
		return err
	}
	if err := p.Store.CreateTask(task); err != nil {
		return err
	}

	if jsonOutput {
		return emitSuccess(map[string]any{"task": task})
	}
	fmt.Printf("Created task %s in spec %s\n", task.ID, task.SpecID)
	return nil
}

func runTaskFollowup(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	task, err := newTaskFromFlags(args[0], args[1], args[2])
	if err != nil {
		return err
	}

	category := detectFollowupCategory(task.ID)
	task.Metadata = map[string]any{"category": category}
	if followupParent != "" {
		task.Metadata["parent"] = followupParent
		if !task.DependsOn(followupParent) {
			task.Dependencies = append(task.Dependencies, followupParent)
		}
	}

	if err := p.Store.CreateTask(task); err != nil {
		return err
	}

	if jsonOutput {
		return emitSuccess(map[string]any{"task": task, "category": category})
	}
	fmt.Printf("Created %s follow-up %s in spec %s\n", category, task.ID, task.SpecID)
	return nil
}

func runTaskUpdate(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	status := models.TaskStatus(args[1])
	if !status.Valid() {
		return errs.New(errs.KindInvalidArgument, "invalid task status %q", args[1])
	}
	task, err := p.Store.UpdateTaskStatus(args[0], status)
	if err != nil {
		return err
	}

	if jsonOutput {
		return emitSuccess(map[string]any{"task": task})
	}
	fmt.Printf("Task %s is now %s\n", task.ID, task.Status)
	return nil
}

func runTaskImport(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	count, err := p.ImportTasksFromMarkdown(args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		return emitSuccess(map[string]any{"imported": count, "spec_id": args[0]})
	}
	fmt.Printf("Imported %d task(s) from %s\n", count, args[0])
	return nil
}

func runListTasks(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	if listTasksStatus != "" && !models.TaskStatus(listTasksStatus).Valid() {
		return errs.New(errs.KindInvalidArgument, "invalid task status %q", listTasksStatus)
	}
	tasks, err := p.Store.ListTasks(listTasksSpec, models.TaskStatus(listTasksStatus))
	if err != nil {
		return err
	}

	if jsonOutput {
		return emitSuccess(map[string]any{"tasks": tasks, "count": len(tasks)})
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}
	for _, task := range tasks {
		line := fmt.Sprintf("%-20s P%d %-13s %s", task.ID, task.Priority,
			taskStatusColor(task.Status).Sprint(task.Status), task.Title)
		if len(task.Dependencies) > 0 {
			line += fmt.Sprintf("  (after %s)", strings.Join(task.Dependencies, ", "))
		}
		fmt.Println(line)
	}
	return nil
}
