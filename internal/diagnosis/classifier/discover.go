package classifier

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

// Discover lists the workflow files in dir whose content mentions one of
// markers. With no markers every workflow is returned.
func Discover(dir string, markers []string) ([]domain.JobID, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow dir: %w", err)
	}

	var jobs []domain.JobID
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read workflow %s: %w", name, err)
		}
		if len(markers) == 0 || containsAny(string(data), markers) {
			jobs = append(jobs, domain.JobID(name))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i] < jobs[j] })
	return jobs, nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
