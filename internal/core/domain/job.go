package domain

import "strings"

// JobID identifies a scheduled workflow, e.g. "nba-news.yml".
type JobID string

// Name returns the job identifier without its workflow file extension.
func (j JobID) Name() string {
	s := string(j)
	s = strings.TrimSuffix(s, ".yml")
	s = strings.TrimSuffix(s, ".yaml")
	return s
}

func (j JobID) String() string {
	return string(j)
}
