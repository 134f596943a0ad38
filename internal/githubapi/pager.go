package githubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// PullRequestQuery selects which pull requests to page through. Exactly one
// of CreatedAfter (full sync) or UpdatedSince (incremental sync) is set; both
// zero means everything.
type PullRequestQuery struct {
	Owner        string
	Repo         string
	CreatedAfter time.Time
	UpdatedSince time.Time
	PerPage      int
}

// PullRequestPage is one page of pull requests plus the cursor state needed
// to continue and the quota observed while fetching it.
type PullRequestPage struct {
	Records []PullRequestRecord
	// TotalCount is the total matching pull requests, or -1 when the
	// source cannot report it.
	TotalCount int
	EndCursor  string
	HasNext    bool
	// RateRemaining is the remaining quota after this page, -1 if unknown.
	RateRemaining int
}

// PullRequestPager walks pull request pages one at a time so the caller can
// checkpoint between pages. Next after the final page returns an empty page
// with HasNext false.
type PullRequestPager interface {
	Next(ctx context.Context) (PullRequestPage, error)
}

// restPullRequestPager pages the REST pulls listing. The listing is sorted by
// update time descending, so an incremental walk stops as soon as a page
// falls entirely behind the watermark.
type restPullRequestPager struct {
	client *PullClient
	query  PullRequestQuery
	page   int
	done   bool
}

func (p *restPullRequestPager) Next(ctx context.Context) (PullRequestPage, error) {
	if p.done {
		return PullRequestPage{TotalCount: -1, RateRemaining: -1}, nil
	}

	perPage := p.query.PerPage
	if perPage <= 0 {
		perPage = 100
	}
	query := url.Values{}
	query.Set("state", "all")
	query.Set("sort", "updated")
	query.Set("direction", "desc")
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("page", strconv.Itoa(p.page))

	body, header, metadata, err := p.client.doGet(ctx, []string{"repos", p.query.Owner, p.query.Repo, "pulls"}, query)
	if err != nil {
		return PullRequestPage{}, fmt.Errorf("list pull requests page %d: %w", p.page, err)
	}

	var records []PullRequestRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return PullRequestPage{}, newFetchError(FetchErrorDecode, "list pull requests", err)
	}

	result := PullRequestPage{
		TotalCount:    -1,
		RateRemaining: rateRemainingFrom(metadata),
	}
	exhausted := false
	for _, record := range records {
		if !p.query.UpdatedSince.IsZero() && ParseTimestamp(record.UpdatedAt).Before(p.query.UpdatedSince) {
			exhausted = true
			break
		}
		if !p.query.CreatedAfter.IsZero() && ParseTimestamp(record.CreatedAt).Before(p.query.CreatedAfter) {
			continue
		}
		result.Records = append(result.Records, record)
	}

	if exhausted || len(records) == 0 || !linkHasNextPage(header.Get("Link")) {
		p.done = true
		return result, nil
	}

	p.page++
	result.HasNext = true
	result.EndCursor = strconv.Itoa(p.page)
	return result, nil
}

func rateRemainingFrom(metadata CallMetadata) int {
	if metadata.LastRateHeaders.ResetUnix == 0 && metadata.LastRateHeaders.Remaining == 0 &&
		metadata.LastRateHeaders.Used == 0 {
		return -1
	}
	return metadata.LastRateHeaders.Remaining
}

// GraphQLPullRequestSource pages pull requests through the GraphQL search
// API, which reports the total match count the progress gauge needs.
type GraphQLPullRequestSource struct {
	endpoint      string
	requestClient *Client
}

// NewGraphQLPullRequestSource creates a GraphQL-backed pull request source.
func NewGraphQLPullRequestSource(endpoint string, requestClient *Client) (*GraphQLPullRequestSource, error) {
	if requestClient == nil {
		return nil, fmt.Errorf("request client is required")
	}
	if endpoint == "" {
		endpoint = "https://api.github.com/graphql"
	}
	return &GraphQLPullRequestSource{
		endpoint:      endpoint,
		requestClient: requestClient,
	}, nil
}

// PullRequests returns a pager over matching pull requests, most recently
// updated first, with TotalCount populated from the first page.
func (s *GraphQLPullRequestSource) PullRequests(query PullRequestQuery) PullRequestPager {
	return &graphQLPullRequestPager{
		source: s,
		query:  query,
	}
}

type graphQLPullRequestPager struct {
	source *GraphQLPullRequestSource
	query  PullRequestQuery
	cursor string
	done   bool
}

const pullRequestSearchQuery = `query($searchQuery: String!, $perPage: Int!, $after: String) {
  search(query: $searchQuery, type: ISSUE, first: $perPage, after: $after) {
    issueCount
    pageInfo { hasNextPage endCursor }
    nodes {
      ... on PullRequest {
        databaseId
        number
        title
        bodyText
        state
        createdAt
        updatedAt
        mergedAt
        additions
        deletions
        author { login }
        headRefOid
      }
    }
  }
  rateLimit { remaining }
}`

func (p *graphQLPullRequestPager) Next(ctx context.Context) (PullRequestPage, error) {
	if p.done {
		return PullRequestPage{TotalCount: -1, RateRemaining: -1}, nil
	}

	perPage := p.query.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	variables := map[string]any{
		"searchQuery": buildSearchQuery(p.query),
		"perPage":     perPage,
	}
	if p.cursor != "" {
		variables["after"] = p.cursor
	}

	payload, err := json.Marshal(map[string]any{
		"query":     pullRequestSearchQuery,
		"variables": variables,
	})
	if err != nil {
		return PullRequestPage{}, newFetchError(FetchErrorDecode, "encode search query", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.source.endpoint, bytes.NewReader(payload))
	if err != nil {
		return PullRequestPage{}, newFetchError(FetchErrorTransport, "build search request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, _, err := p.source.requestClient.Do(req)
	if err != nil {
		return PullRequestPage{}, newFetchError(FetchErrorTransport, "search pull requests", err)
	}
	if resp == nil {
		return PullRequestPage{}, newFetchError(FetchErrorTransport, "search pull requests", fmt.Errorf("nil response"))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return PullRequestPage{}, newFetchError(FetchErrorAuth, "search pull requests", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return PullRequestPage{}, newFetchError(FetchErrorTransport, "search pull requests", fmt.Errorf("status %d", resp.StatusCode))
	}

	var envelope struct {
		Data struct {
			Search struct {
				IssueCount int `json:"issueCount"`
				PageInfo   struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
				Nodes []graphQLPullRequestNode `json:"nodes"`
			} `json:"search"`
			RateLimit struct {
				Remaining int `json:"remaining"`
			} `json:"rateLimit"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return PullRequestPage{}, newFetchError(FetchErrorDecode, "search pull requests", err)
	}
	if len(envelope.Errors) > 0 {
		return PullRequestPage{}, newFetchError(FetchErrorTransport, "search pull requests", fmt.Errorf("graphql: %s", envelope.Errors[0].Message))
	}

	result := PullRequestPage{
		TotalCount:    envelope.Data.Search.IssueCount,
		EndCursor:     envelope.Data.Search.PageInfo.EndCursor,
		HasNext:       envelope.Data.Search.PageInfo.HasNextPage,
		RateRemaining: envelope.Data.RateLimit.Remaining,
	}
	for _, node := range envelope.Data.Search.Nodes {
		result.Records = append(result.Records, node.toRecord())
	}

	if !result.HasNext {
		p.done = true
	}
	p.cursor = result.EndCursor
	return result, nil
}

func buildSearchQuery(query PullRequestQuery) string {
	search := fmt.Sprintf("repo:%s/%s is:pr sort:updated-desc", query.Owner, query.Repo)
	if !query.UpdatedSince.IsZero() {
		search += " updated:>=" + query.UpdatedSince.UTC().Format(time.RFC3339)
	} else if !query.CreatedAfter.IsZero() {
		search += " created:>=" + query.CreatedAfter.UTC().Format(time.RFC3339)
	}
	return search
}

type graphQLPullRequestNode struct {
	DatabaseID int64        `json:"databaseId"`
	Number     int          `json:"number"`
	Title      string       `json:"title"`
	BodyText   string       `json:"bodyText"`
	State      string       `json:"state"`
	CreatedAt  string       `json:"createdAt"`
	UpdatedAt  string       `json:"updatedAt"`
	MergedAt   *string      `json:"mergedAt"`
	Additions  int          `json:"additions"`
	Deletions  int          `json:"deletions"`
	Author     *ActorRecord `json:"author"`
	HeadRefOid string       `json:"headRefOid"`
}

// toRecord normalizes a GraphQL node to the REST wire shape so downstream
// mapping has a single input format. GraphQL reports state in upper case and
// MERGED as its own state.
func (n graphQLPullRequestNode) toRecord() PullRequestRecord {
	record := PullRequestRecord{
		ID:        n.DatabaseID,
		Number:    n.Number,
		Title:     n.Title,
		Body:      n.BodyText,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
		MergedAt:  n.MergedAt,
		Additions: n.Additions,
		Deletions: n.Deletions,
		User:      n.Author,
	}
	record.Head.SHA = n.HeadRefOid
	switch n.State {
	case "OPEN":
		record.State = "open"
	case "MERGED", "CLOSED":
		record.State = "closed"
	default:
		record.State = "open"
	}
	return record
}
