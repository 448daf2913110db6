package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChecklistItem is one pre/post gate on a job. Required items abort the job
// on failure; optional ones are logged and swallowed.
type ChecklistItem struct {
	Name     string `yaml:"name"`
	Required bool   `yaml:"required"`

	// Exactly one of the following selects the check type.
	FileExists string   `yaml:"file_exists,omitempty"` // path that must exist
	Command    []string `yaml:"command,omitempty"`     // argv that must exit zero
}

// ChecklistError reports a failed required gate. It becomes the job's error.
type ChecklistError struct {
	Phase string // "pre" or "post"
	Item  string
	Cause error
}

func (e *ChecklistError) Error() string {
	return fmt.Sprintf("%s checklist %q failed: %v", e.Phase, e.Item, e.Cause)
}

func (e *ChecklistError) Unwrap() error { return e.Cause }

// checklistFile is the YAML document shape.
type checklistFile struct {
	Pre  []ChecklistItem `yaml:"pre"`
	Post []ChecklistItem `yaml:"post"`
}

// LoadChecklists reads pre/post gate definitions from a YAML file. A missing
// file yields empty checklists, not an error.
func LoadChecklists(path string) (pre, post []ChecklistItem, err error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read checklists %s: %w", path, err)
	}

	var doc checklistFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse checklists %s: %w", path, err)
	}
	return doc.Pre, doc.Post, nil
}

// runChecklist evaluates each item in order. A required failure aborts with
// a ChecklistError; optional failures are logged and ignored.
func (e *Executor) runChecklist(ctx context.Context, jobID, phase string, items []ChecklistItem) error {
	for _, item := range items {
		err := evalItem(ctx, item)
		if err == nil {
			continue
		}
		if item.Required {
			e.logEvent(ctx, "checklist_failed", jobID, 0,
				fmt.Sprintf(`{"phase":%q,"item":%q,"required":true}`, phase, item.Name))
			return &ChecklistError{Phase: phase, Item: item.Name, Cause: err}
		}
		e.logEvent(ctx, "checklist_warn", jobID, 0,
			fmt.Sprintf(`{"phase":%q,"item":%q,"error":%q}`, phase, item.Name, err.Error()))
	}
	return nil
}

// evalItem runs one gate check.
func evalItem(ctx context.Context, item ChecklistItem) error {
	switch {
	case item.FileExists != "":
		if _, err := os.Stat(item.FileExists); err != nil {
			return fmt.Errorf("file %s: %w", item.FileExists, err)
		}
		return nil
	case len(item.Command) > 0:
		//nolint:gosec // argv comes from operator-controlled checklist config
		cmd := exec.CommandContext(ctx, item.Command[0], item.Command[1:]...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("command %s: %w (%s)", item.Command[0], err, truncate(strings.TrimSpace(string(out)), 200))
		}
		return nil
	default:
		return fmt.Errorf("checklist item %q has no check", item.Name)
	}
}
