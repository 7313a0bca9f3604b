package tagfile

import (
	"fmt"

	"github.com/tagbatch/tagbatch/internal/scheduler"
)

// ReadSummary describes a finished read batch for dir.
func ReadSummary(tasks []scheduler.Task, dir string) string {
	ok := scheduler.CountOK(tasks)
	failed := len(tasks) - ok
	if failed == 0 {
		return fmt.Sprintf("Loaded %d track(s) from %s", ok, dir)
	}
	return fmt.Sprintf("Error! loaded %d track(s) and %d track(s) failed or skipped from %s", ok, failed, dir)
}

// SaveSummary describes a finished save batch.
func SaveSummary(tasks []*SaveTask) string {
	saved, failed := 0, 0
	for _, t := range tasks {
		switch t.Status() {
		case scheduler.TaskOK:
			if t.Saved() {
				saved++
			}
		default:
			failed++
		}
	}
	if failed == 0 {
		return fmt.Sprintf("Saved %d track(s)", saved)
	}
	return fmt.Sprintf("Error! saved %d track(s) and %d track(s) failed or skipped", saved, failed)
}
