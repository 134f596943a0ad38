package githubapi

import "time"

// ActorRecord is a wire-format user reference. Nil actors are common: deleted
// accounts and bot identities come through as null.
type ActorRecord struct {
	Login string `json:"login"`
}

// PullRequestRecord is one raw pull request as the external API reports it.
type PullRequestRecord struct {
	ID        int64        `json:"id"`
	Number    int          `json:"number"`
	Title     string       `json:"title"`
	Body      string       `json:"body"`
	State     string       `json:"state"`
	User      *ActorRecord `json:"user"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at"`
	MergedAt  *string      `json:"merged_at"`
	Additions int          `json:"additions"`
	Deletions int          `json:"deletions"`
	Head      struct {
		SHA string `json:"sha"`
	} `json:"head"`
}

// ReviewRecord is one raw review submission.
type ReviewRecord struct {
	ID          int64        `json:"id"`
	User        *ActorRecord `json:"user"`
	State       string       `json:"state"`
	Body        string       `json:"body"`
	SubmittedAt *string      `json:"submitted_at"`
}

// CommitRecord is one raw commit on a pull request.
type CommitRecord struct {
	SHA    string       `json:"sha"`
	Author *ActorRecord `json:"author"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Stats struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	} `json:"stats"`
}

// FileRecord is one raw changed file on a pull request.
type FileRecord struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// CheckRunRecord is one raw check run for a head SHA.
type CheckRunRecord struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	Conclusion  string  `json:"conclusion"`
	StartedAt   *string `json:"started_at"`
	CompletedAt *string `json:"completed_at"`
}

// CommentRecord is one raw comment, either conversation-level or inline.
type CommentRecord struct {
	ID        int64        `json:"id"`
	User      *ActorRecord `json:"user"`
	Body      string       `json:"body"`
	CreatedAt string       `json:"created_at"`
}

// DeploymentStatusRecord is one status event on a deployment.
type DeploymentStatusRecord struct {
	State     string `json:"state"`
	CreatedAt string `json:"created_at"`
}

// DeploymentRecord is one raw deployment plus its status events, most recent
// first as the API returns them.
type DeploymentRecord struct {
	ID          int64        `json:"id"`
	Environment string       `json:"environment"`
	SHA         string       `json:"sha"`
	Creator     *ActorRecord `json:"creator"`
	CreatedAt   string       `json:"created_at"`
	Statuses    []DeploymentStatusRecord
}

// ParseTimestamp parses an RFC3339 wire timestamp, zero on failure.
func ParseTimestamp(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

// ParseNullableTimestamp parses an optional RFC3339 wire timestamp.
func ParseNullableTimestamp(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	parsed := ParseTimestamp(*raw)
	if parsed.IsZero() {
		return nil
	}
	return &parsed
}
