package project

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/pkg/models"
)

var (
	taskHeadingRe = regexp.MustCompile(`###\s+Task:\s+([A-Z]+-\d+)`)
	titleRe       = regexp.MustCompile(`\*\*Title\*\*:\s*(.+)`)
	descRe        = regexp.MustCompile(`\*\*Description\*\*:\s*(.+)`)
	priorityRe    = regexp.MustCompile(`\*\*Priority\*\*:\s*(\d+)`)
	depsRe        = regexp.MustCompile(`\*\*Dependencies\*\*:\s*\[(.*?)\]`)
	assigneeRe    = regexp.MustCompile(`\*\*Assignee\*\*:\s*(\w+)`)
)

// ImportTasksFromMarkdown parses specs/<spec_id>/tasks.md and creates any
// tasks not already present. Returns the number imported. A missing file
// imports zero tasks.
func (p *Project) ImportTasksFromMarkdown(specID string) (int, error) {
	path := filepath.Join(p.SpecDir(specID), "tasks.md")
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read tasks.md: %w", err)
	}

	imported := 0
	for _, block := range splitTaskBlocks(string(content)) {
		task := parseTaskBlock(block.id, block.body, specID)
		if _, err := p.Store.GetTaskNoCompletion(task.ID); err == nil {
			continue
		} else if !errs.Is(err, errs.KindNotFound) {
			return imported, err
		}
		if err := p.Store.CreateTask(task); err != nil {
			return imported, fmt.Errorf("import task %s: %w", task.ID, err)
		}
		imported++
	}
	return imported, nil
}

type taskBlock struct {
	id   string
	body string
}

// splitTaskBlocks finds every "### Task: TASK-XXX" heading and the text up
// to the next heading.
func splitTaskBlocks(content string) []taskBlock {
	headings := taskHeadingRe.FindAllStringSubmatchIndex(content, -1)
	blocks := make([]taskBlock, 0, len(headings))
	for i, h := range headings {
		end := len(content)
		if i+1 < len(headings) {
			end = headings[i+1][0]
		}
		blocks = append(blocks, taskBlock{
			id:   content[h[2]:h[3]],
			body: content[h[1]:end],
		})
	}
	return blocks
}

func parseTaskBlock(id, body, specID string) *models.Task {
	now := time.Now()
	task := &models.Task{
		ID:        id,
		SpecID:    specID,
		Title:     id,
		Status:    models.TaskStatusTodo,
		Priority:  models.PriorityMedium,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if m := titleRe.FindStringSubmatch(body); m != nil {
		task.Title = strings.TrimSpace(m[1])
	}
	if m := descRe.FindStringSubmatch(body); m != nil {
		task.Description = strings.TrimSpace(m[1])
	}
	if m := priorityRe.FindStringSubmatch(body); m != nil {
		if p, err := strconv.Atoi(m[1]); err == nil && p >= models.PriorityHigh && p <= models.PriorityLow {
			task.Priority = p
		}
	}
	if m := depsRe.FindStringSubmatch(body); m != nil {
		for _, dep := range strings.Split(m[1], ",") {
			if dep = strings.TrimSpace(dep); dep != "" {
				task.Dependencies = append(task.Dependencies, dep)
			}
		}
	}
	if m := assigneeRe.FindStringSubmatch(body); m != nil {
		task.Assignee = m[1]
	}
	return task
}
