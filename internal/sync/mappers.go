package sync

import (
	"strings"
	"time"

	"github.com/devpulse/devpulse/internal/githubapi"
	"github.com/devpulse/devpulse/internal/model"
)

// aiToolMarkers maps a canonical tool name to the substrings that disclose
// its use in PR or commit text.
var aiToolMarkers = map[string][]string{
	"copilot":  {"github copilot", "copilot"},
	"cursor":   {"cursor"},
	"claude":   {"claude"},
	"chatgpt":  {"chatgpt", "gpt-4", "gpt-5"},
	"codeium":  {"codeium"},
	"windsurf": {"windsurf"},
}

// aiToolOrder keeps DetectAITools output deterministic.
var aiToolOrder = []string{"copilot", "cursor", "claude", "chatgpt", "codeium", "windsurf"}

// DetectAITools scans text for AI-assistant disclosure markers and returns
// the canonical tool names found, in a fixed order.
func DetectAITools(text string) []string {
	lowered := strings.ToLower(text)
	var found []string
	for _, tool := range aiToolOrder {
		for _, marker := range aiToolMarkers[tool] {
			if strings.Contains(lowered, marker) {
				found = append(found, tool)
				break
			}
		}
	}
	return found
}

// MapPullRequest converts one wire pull request to its local entity. The
// author reference is resolved separately so mapping stays pure.
func MapPullRequest(teamID uint, repoFullName string, record githubapi.PullRequestRecord) model.PullRequest {
	mergedAt := githubapi.ParseNullableTimestamp(record.MergedAt)

	state := model.PRStateOpen
	if strings.EqualFold(record.State, "closed") {
		state = model.PRStateClosed
		if mergedAt != nil {
			state = model.PRStateMerged
		}
	}

	tools := DetectAITools(record.Title + "\n" + record.Body)
	loweredTitle := strings.ToLower(record.Title)

	return model.PullRequest{
		TeamID:          teamID,
		ExternalID:      record.ID,
		RepoFullName:    repoFullName,
		Number:          record.Number,
		Title:           record.Title,
		Body:            record.Body,
		State:           state,
		HeadSHA:         record.Head.SHA,
		Additions:       record.Additions,
		Deletions:       record.Deletions,
		OpenedAt:        githubapi.ParseTimestamp(record.CreatedAt),
		MergedAt:        mergedAt,
		IsAIAssisted:    len(tools) > 0,
		AIToolsDetected: strings.Join(tools, ","),
		IsRevert:        strings.HasPrefix(loweredTitle, "revert"),
		IsHotfix:        strings.Contains(loweredTitle, "hotfix"),
	}
}

// MapReview converts one wire review. Review states arrive upper-cased and
// are stored lowercased.
func MapReview(teamID, prID uint, record githubapi.ReviewRecord) model.PRReview {
	var submittedAt time.Time
	if parsed := githubapi.ParseNullableTimestamp(record.SubmittedAt); parsed != nil {
		submittedAt = *parsed
	}
	return model.PRReview{
		TeamID:        teamID,
		ExternalID:    record.ID,
		PullRequestID: prID,
		State:         strings.ToLower(record.State),
		Body:          record.Body,
		SubmittedAt:   submittedAt,
	}
}

// MapCommit converts one wire commit.
func MapCommit(teamID uint, prID *uint, record githubapi.CommitRecord) model.Commit {
	return model.Commit{
		TeamID:        teamID,
		SHA:           record.SHA,
		PullRequestID: prID,
		Message:       record.Commit.Message,
		Additions:     record.Stats.Additions,
		Deletions:     record.Stats.Deletions,
		CommittedAt:   githubapi.ParseTimestamp(record.Commit.Author.Date),
	}
}

// MapFile converts one wire file entry. Changes is computed from the line
// counts, not taken from the wire.
func MapFile(teamID, prID uint, record githubapi.FileRecord) model.PRFile {
	return model.PRFile{
		TeamID:        teamID,
		PullRequestID: prID,
		Filename:      record.Filename,
		Status:        record.Status,
		Additions:     record.Additions,
		Deletions:     record.Deletions,
		Changes:       record.Additions + record.Deletions,
	}
}

// MapCheckRun converts one wire check run. Duration is derived from the two
// timestamps and nil when either is missing.
func MapCheckRun(teamID, prID uint, record githubapi.CheckRunRecord) model.PRCheckRun {
	startedAt := githubapi.ParseNullableTimestamp(record.StartedAt)
	completedAt := githubapi.ParseNullableTimestamp(record.CompletedAt)

	var duration *int
	if startedAt != nil && completedAt != nil {
		seconds := int(completedAt.Sub(*startedAt).Seconds())
		duration = &seconds
	}

	return model.PRCheckRun{
		TeamID:          teamID,
		ExternalID:      record.ID,
		PullRequestID:   prID,
		Name:            record.Name,
		Status:          record.Status,
		Conclusion:      record.Conclusion,
		StartedAt:       startedAt,
		CompletedAt:     completedAt,
		DurationSeconds: duration,
	}
}

// MapComment converts one wire comment of either subtype.
func MapComment(teamID, prID uint, kind model.CommentKind, record githubapi.CommentRecord) model.PRComment {
	return model.PRComment{
		TeamID:        teamID,
		ExternalID:    record.ID,
		PullRequestID: prID,
		Kind:          kind,
		Body:          record.Body,
		PostedAt:      githubapi.ParseTimestamp(record.CreatedAt),
	}
}

// MapDeployment converts one wire deployment. Statuses arrive most recent
// first; the current status is the first one, "pending" when none exist.
func MapDeployment(teamID uint, repoFullName string, record githubapi.DeploymentRecord) model.Deployment {
	status := "pending"
	if len(record.Statuses) > 0 {
		status = record.Statuses[0].State
	}
	return model.Deployment{
		TeamID:       teamID,
		ExternalID:   record.ID,
		RepoFullName: repoFullName,
		Environment:  record.Environment,
		Status:       status,
		SHA:          record.SHA,
		DeployedAt:   githubapi.ParseTimestamp(record.CreatedAt),
	}
}
