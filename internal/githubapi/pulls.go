package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const defaultAPIBaseURL = "https://api.github.com/"

// PullData is the read surface the sync engine consumes. Per-detail listings
// return every page merged into one slice plus the merged call metadata.
type PullData interface {
	PullRequests(query PullRequestQuery) PullRequestPager
	ListPullReviews(ctx context.Context, owner, repo string, number int) ([]ReviewRecord, CallMetadata, error)
	ListPullCommits(ctx context.Context, owner, repo string, number int) ([]CommitRecord, CallMetadata, error)
	ListPullFiles(ctx context.Context, owner, repo string, number int) ([]FileRecord, CallMetadata, error)
	ListCheckRuns(ctx context.Context, owner, repo, headSHA string) ([]CheckRunRecord, CallMetadata, error)
	ListIssueComments(ctx context.Context, owner, repo string, number int) ([]CommentRecord, CallMetadata, error)
	ListReviewComments(ctx context.Context, owner, repo string, number int) ([]CommentRecord, CallMetadata, error)
	ListDeployments(ctx context.Context, owner, repo string) ([]DeploymentRecord, CallMetadata, error)
}

// PullClient is a typed GitHub REST client for pull-request sync endpoints.
type PullClient struct {
	baseURL       *url.URL
	requestClient *Client
}

// NewPullClient creates a typed pull data client over the generic retry/rate-limit request client.
func NewPullClient(baseURL string, requestClient *Client) (*PullClient, error) {
	if requestClient == nil {
		return nil, fmt.Errorf("request client is required")
	}

	parsed, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	return &PullClient{
		baseURL:       parsed,
		requestClient: requestClient,
	}, nil
}

// PullRequests returns a pager over the repository's pull requests,
// most recently updated first.
func (c *PullClient) PullRequests(query PullRequestQuery) PullRequestPager {
	return &restPullRequestPager{
		client: c,
		query:  query,
		page:   1,
	}
}

// ListPullReviews lists every review on one pull request.
func (c *PullClient) ListPullReviews(ctx context.Context, owner, repo string, number int) ([]ReviewRecord, CallMetadata, error) {
	var reviews []ReviewRecord
	metadata, err := c.listAllPages(ctx, []string{"repos", owner, repo, "pulls", strconv.Itoa(number), "reviews"}, nil,
		func(body []byte) (int, error) {
			var page []ReviewRecord
			if err := json.Unmarshal(body, &page); err != nil {
				return 0, err
			}
			reviews = append(reviews, page...)
			return len(page), nil
		})
	if err != nil {
		return nil, metadata, fmt.Errorf("list pull reviews: %w", err)
	}
	return reviews, metadata, nil
}

// ListPullCommits lists every commit on one pull request.
func (c *PullClient) ListPullCommits(ctx context.Context, owner, repo string, number int) ([]CommitRecord, CallMetadata, error) {
	var commits []CommitRecord
	metadata, err := c.listAllPages(ctx, []string{"repos", owner, repo, "pulls", strconv.Itoa(number), "commits"}, nil,
		func(body []byte) (int, error) {
			var page []CommitRecord
			if err := json.Unmarshal(body, &page); err != nil {
				return 0, err
			}
			commits = append(commits, page...)
			return len(page), nil
		})
	if err != nil {
		return nil, metadata, fmt.Errorf("list pull commits: %w", err)
	}
	return commits, metadata, nil
}

// ListPullFiles lists every changed file on one pull request.
func (c *PullClient) ListPullFiles(ctx context.Context, owner, repo string, number int) ([]FileRecord, CallMetadata, error) {
	var files []FileRecord
	metadata, err := c.listAllPages(ctx, []string{"repos", owner, repo, "pulls", strconv.Itoa(number), "files"}, nil,
		func(body []byte) (int, error) {
			var page []FileRecord
			if err := json.Unmarshal(body, &page); err != nil {
				return 0, err
			}
			files = append(files, page...)
			return len(page), nil
		})
	if err != nil {
		return nil, metadata, fmt.Errorf("list pull files: %w", err)
	}
	return files, metadata, nil
}

// ListCheckRuns lists check runs for one head SHA. The endpoint wraps the
// list in an envelope, unlike the other listings.
func (c *PullClient) ListCheckRuns(ctx context.Context, owner, repo, headSHA string) ([]CheckRunRecord, CallMetadata, error) {
	var runs []CheckRunRecord
	metadata, err := c.listAllPages(ctx, []string{"repos", owner, repo, "commits", headSHA, "check-runs"}, nil,
		func(body []byte) (int, error) {
			var envelope struct {
				CheckRuns []CheckRunRecord `json:"check_runs"`
			}
			if err := json.Unmarshal(body, &envelope); err != nil {
				return 0, err
			}
			runs = append(runs, envelope.CheckRuns...)
			return len(envelope.CheckRuns), nil
		})
	if err != nil {
		return nil, metadata, fmt.Errorf("list check runs: %w", err)
	}
	return runs, metadata, nil
}

// ListIssueComments lists conversation-level comments on one pull request.
func (c *PullClient) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]CommentRecord, CallMetadata, error) {
	var comments []CommentRecord
	metadata, err := c.listAllPages(ctx, []string{"repos", owner, repo, "issues", strconv.Itoa(number), "comments"}, nil,
		func(body []byte) (int, error) {
			var page []CommentRecord
			if err := json.Unmarshal(body, &page); err != nil {
				return 0, err
			}
			comments = append(comments, page...)
			return len(page), nil
		})
	if err != nil {
		return nil, metadata, fmt.Errorf("list issue comments: %w", err)
	}
	return comments, metadata, nil
}

// ListReviewComments lists inline diff comments on one pull request.
func (c *PullClient) ListReviewComments(ctx context.Context, owner, repo string, number int) ([]CommentRecord, CallMetadata, error) {
	var comments []CommentRecord
	metadata, err := c.listAllPages(ctx, []string{"repos", owner, repo, "pulls", strconv.Itoa(number), "comments"}, nil,
		func(body []byte) (int, error) {
			var page []CommentRecord
			if err := json.Unmarshal(body, &page); err != nil {
				return 0, err
			}
			comments = append(comments, page...)
			return len(page), nil
		})
	if err != nil {
		return nil, metadata, fmt.Errorf("list review comments: %w", err)
	}
	return comments, metadata, nil
}

// ListDeployments lists repository deployments with their status events.
// Statuses come from one follow-up call per deployment, most recent first.
func (c *PullClient) ListDeployments(ctx context.Context, owner, repo string) ([]DeploymentRecord, CallMetadata, error) {
	var deployments []DeploymentRecord
	metadata, err := c.listAllPages(ctx, []string{"repos", owner, repo, "deployments"}, nil,
		func(body []byte) (int, error) {
			var page []DeploymentRecord
			if err := json.Unmarshal(body, &page); err != nil {
				return 0, err
			}
			deployments = append(deployments, page...)
			return len(page), nil
		})
	if err != nil {
		return nil, metadata, fmt.Errorf("list deployments: %w", err)
	}

	for i := range deployments {
		statusBody, statusMeta, err := c.getJSON(ctx, []string{"repos", owner, repo, "deployments", strconv.FormatInt(deployments[i].ID, 10), "statuses"}, nil)
		metadata = mergeCallMetadata(metadata, statusMeta)
		if err != nil {
			return nil, metadata, fmt.Errorf("list deployment statuses: %w", err)
		}
		if err := json.Unmarshal(statusBody, &deployments[i].Statuses); err != nil {
			return nil, metadata, newFetchError(FetchErrorDecode, "list deployment statuses", err)
		}
	}
	return deployments, metadata, nil
}

// listAllPages walks every page of a list endpoint via the Link header,
// handing each raw page body to consume. consume reports the page item count
// so empty pages stop the walk even when the Link header lies.
func (c *PullClient) listAllPages(ctx context.Context, segments []string, extraQuery url.Values, consume func(body []byte) (int, error)) (CallMetadata, error) {
	var merged CallMetadata
	page := 1
	for {
		query := url.Values{}
		for key, values := range extraQuery {
			query[key] = values
		}
		query.Set("per_page", "100")
		query.Set("page", strconv.Itoa(page))

		body, header, metadata, err := c.doGet(ctx, segments, query)
		merged = mergeCallMetadata(merged, metadata)
		if err != nil {
			return merged, err
		}

		count, err := consume(body)
		if err != nil {
			return merged, newFetchError(FetchErrorDecode, "decode page", err)
		}

		if count == 0 || !linkHasNextPage(header.Get("Link")) {
			return merged, nil
		}
		page++
	}
}

// getJSON fetches a single unpaginated resource body.
func (c *PullClient) getJSON(ctx context.Context, segments []string, query url.Values) ([]byte, CallMetadata, error) {
	body, _, metadata, err := c.doGet(ctx, segments, query)
	return body, metadata, err
}

func (c *PullClient) doGet(ctx context.Context, segments []string, query url.Values) ([]byte, http.Header, CallMetadata, error) {
	reqURL := *c.baseURL
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	reqURL.Path = strings.TrimSuffix(reqURL.Path, "/") + "/" + strings.Join(escaped, "/")
	if query != nil {
		reqURL.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, nil, CallMetadata{}, newFetchError(FetchErrorTransport, "build request", err)
	}

	resp, metadata, err := c.requestClient.Do(req)
	if err != nil {
		return nil, nil, metadata, newFetchError(FetchErrorTransport, reqURL.Path, err)
	}
	if resp == nil {
		return nil, nil, metadata, newFetchError(FetchErrorTransport, reqURL.Path, fmt.Errorf("nil response"))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, nil, metadata, newFetchError(FetchErrorAuth, reqURL.Path, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, metadata, newFetchError(FetchErrorTransport, reqURL.Path, fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, metadata, newFetchError(FetchErrorTransport, reqURL.Path, err)
	}
	return body, resp.Header, metadata, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultAPIBaseURL
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse api base url: missing scheme or host")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	return parsed, nil
}

func linkHasNextPage(linkHeader string) bool {
	if strings.TrimSpace(linkHeader) == "" {
		return false
	}
	for _, part := range strings.Split(linkHeader, ",") {
		if strings.Contains(part, `rel="next"`) {
			return true
		}
	}
	return false
}

func mergeCallMetadata(current, incoming CallMetadata) CallMetadata {
	current.Attempts += incoming.Attempts
	current.LastDecision = incoming.LastDecision
	current.LastRateHeaders = incoming.LastRateHeaders
	return current
}
