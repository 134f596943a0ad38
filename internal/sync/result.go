package sync

import "fmt"

// Result is the stable summary contract a sync pass returns to its caller.
// Every count is present even when zero.
type Result struct {
	PRsSynced         int      `json:"prs_synced"`
	ReviewsSynced     int      `json:"reviews_synced"`
	CommitsSynced     int      `json:"commits_synced"`
	CheckRunsSynced   int      `json:"check_runs_synced"`
	FilesSynced       int      `json:"files_synced"`
	CommentsSynced    int      `json:"comments_synced"`
	DeploymentsSynced int      `json:"deployments_synced"`
	Errors            []string `json:"errors"`
	RateLimited       bool     `json:"rate_limited"`
}

// ErrorSink collects per-item failure messages without aborting processing.
type ErrorSink struct {
	messages []string
}

// Add records one failure message.
func (s *ErrorSink) Add(format string, args ...any) {
	s.messages = append(s.messages, fmt.Sprintf(format, args...))
}

// Messages returns the recorded failures in arrival order.
func (s *ErrorSink) Messages() []string {
	return s.messages
}

// Len returns the number of recorded failures.
func (s *ErrorSink) Len() int {
	return len(s.messages)
}
