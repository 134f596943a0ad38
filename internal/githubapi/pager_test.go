package githubapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newGraphQLServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestRESTPagerWalksPages(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "900")
		switch r.URL.Query().Get("page") {
		case "1", "":
			w.Header().Set("Link", `<https://example.test/page2>; rel="next"`)
			fmt.Fprint(w, `[{"id":100,"number":12,"title":"Add parser","state":"open","user":{"login":"sam"},"created_at":"2026-01-05T10:00:00Z","updated_at":"2026-01-07T10:00:00Z"}]`)
		default:
			fmt.Fprint(w, `[{"id":99,"number":11,"title":"Fix flake","state":"closed","user":{"login":"kim"},"created_at":"2026-01-02T10:00:00Z","updated_at":"2026-01-06T10:00:00Z","merged_at":"2026-01-06T09:00:00Z"}]`)
		}
	})
	client, _ := newServerBackedClient(t, mux)

	pager := client.PullRequests(PullRequestQuery{Owner: "acme", Repo: "widgets"})

	first, err := pager.Next(context.Background())
	if err != nil {
		t.Fatalf("first Next: %v", err)
	}
	if len(first.Records) != 1 || first.Records[0].Number != 12 {
		t.Fatalf("first page records = %+v", first.Records)
	}
	if !first.HasNext {
		t.Fatalf("first page HasNext = false, want true")
	}
	if first.TotalCount != -1 {
		t.Fatalf("TotalCount = %d, want -1 for REST", first.TotalCount)
	}
	if first.RateRemaining != 900 {
		t.Fatalf("RateRemaining = %d, want 900", first.RateRemaining)
	}

	second, err := pager.Next(context.Background())
	if err != nil {
		t.Fatalf("second Next: %v", err)
	}
	if len(second.Records) != 1 || second.Records[0].Number != 11 {
		t.Fatalf("second page records = %+v", second.Records)
	}
	if second.HasNext {
		t.Fatalf("second page HasNext = true, want false")
	}

	done, err := pager.Next(context.Background())
	if err != nil {
		t.Fatalf("drained Next: %v", err)
	}
	if len(done.Records) != 0 || done.HasNext {
		t.Fatalf("drained page = %+v, want empty terminal page", done)
	}
}

func TestRESTPagerStopsAtWatermark(t *testing.T) {
	t.Parallel()

	var pagesServed int
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, _ *http.Request) {
		pagesServed++
		w.Header().Set("Link", `<https://example.test/page2>; rel="next"`)
		fmt.Fprint(w, `[
			{"id":100,"number":12,"state":"open","created_at":"2026-01-05T10:00:00Z","updated_at":"2026-01-07T10:00:00Z"},
			{"id":99,"number":11,"state":"closed","created_at":"2026-01-02T10:00:00Z","updated_at":"2026-01-03T10:00:00Z"}
		]`)
	})
	client, _ := newServerBackedClient(t, mux)

	watermark := time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC)
	pager := client.PullRequests(PullRequestQuery{Owner: "acme", Repo: "widgets", UpdatedSince: watermark})

	page, err := pager.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].Number != 12 {
		t.Fatalf("records = %+v, want only number 12", page.Records)
	}
	if page.HasNext {
		t.Fatalf("HasNext = true, want false once the listing falls behind the watermark")
	}
	if pagesServed != 1 {
		t.Fatalf("pages served = %d, want 1", pagesServed)
	}
}

func TestRESTPagerFiltersByCreatedAfter(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[
			{"id":100,"number":12,"state":"open","created_at":"2026-01-05T10:00:00Z","updated_at":"2026-01-07T10:00:00Z"},
			{"id":42,"number":3,"state":"closed","created_at":"2025-11-01T10:00:00Z","updated_at":"2026-01-06T10:00:00Z"}
		]`)
	})
	client, _ := newServerBackedClient(t, mux)

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pager := client.PullRequests(PullRequestQuery{Owner: "acme", Repo: "widgets", CreatedAfter: cutoff})

	page, err := pager.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].Number != 12 {
		t.Fatalf("records = %+v, want only number 12", page.Records)
	}
}

func TestGraphQLPagerParsesSearchEnvelope(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
			"data": {
				"search": {
					"issueCount": 57,
					"pageInfo": {"hasNextPage": true, "endCursor": "Y3Vyc29yOjUw"},
					"nodes": [
						{
							"databaseId": 100,
							"number": 12,
							"title": "Add parser",
							"state": "MERGED",
							"createdAt": "2026-01-05T10:00:00Z",
							"updatedAt": "2026-01-07T10:00:00Z",
							"mergedAt": "2026-01-07T09:00:00Z",
							"additions": 120,
							"deletions": 14,
							"author": {"login": "sam"},
							"headRefOid": "abc123"
						}
					]
				},
				"rateLimit": {"remaining": 4988}
			}
		}`)
	})
	server := newGraphQLServer(t, mux)

	requestClient := NewClient(server.Client(), RetryConfig{MaxAttempts: 1}, RateLimitPolicy{})
	source, err := NewGraphQLPullRequestSource(server.URL+"/graphql", requestClient)
	if err != nil {
		t.Fatalf("NewGraphQLPullRequestSource: %v", err)
	}

	pager := source.PullRequests(PullRequestQuery{Owner: "acme", Repo: "widgets"})
	page, err := pager.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	if page.TotalCount != 57 {
		t.Fatalf("TotalCount = %d, want 57", page.TotalCount)
	}
	if !page.HasNext || page.EndCursor != "Y3Vyc29yOjUw" {
		t.Fatalf("cursor state = %+v", page)
	}
	if page.RateRemaining != 4988 {
		t.Fatalf("RateRemaining = %d, want 4988", page.RateRemaining)
	}
	if len(page.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(page.Records))
	}
	record := page.Records[0]
	if record.State != "closed" {
		t.Fatalf("state = %q, want closed for merged node", record.State)
	}
	if record.MergedAt == nil || *record.MergedAt != "2026-01-07T09:00:00Z" {
		t.Fatalf("mergedAt = %v", record.MergedAt)
	}
	if record.Head.SHA != "abc123" {
		t.Fatalf("head sha = %q, want abc123", record.Head.SHA)
	}
}

func TestGraphQLPagerSurfacesErrors(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"errors":[{"message":"Field 'bogus' doesn't exist"}]}`)
	})
	server := newGraphQLServer(t, mux)

	requestClient := NewClient(server.Client(), RetryConfig{MaxAttempts: 1}, RateLimitPolicy{})
	source, err := NewGraphQLPullRequestSource(server.URL+"/graphql", requestClient)
	if err != nil {
		t.Fatalf("NewGraphQLPullRequestSource: %v", err)
	}

	pager := source.PullRequests(PullRequestQuery{Owner: "acme", Repo: "widgets"})
	if _, err := pager.Next(context.Background()); err == nil {
		t.Fatalf("Next expected error for graphql error payload, got nil")
	}
}

func TestBuildSearchQuery(t *testing.T) {
	t.Parallel()

	base := PullRequestQuery{Owner: "acme", Repo: "widgets"}

	testCases := []struct {
		name  string
		query PullRequestQuery
		want  string
	}{
		{
			name:  "unbounded",
			query: base,
			want:  "repo:acme/widgets is:pr sort:updated-desc",
		},
		{
			name: "incremental_uses_updated_filter",
			query: func() PullRequestQuery {
				q := base
				q.UpdatedSince = time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC)
				return q
			}(),
			want: "repo:acme/widgets is:pr sort:updated-desc updated:>=2026-01-04T00:00:00Z",
		},
		{
			name: "full_uses_created_filter",
			query: func() PullRequestQuery {
				q := base
				q.CreatedAfter = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
				return q
			}(),
			want: "repo:acme/widgets is:pr sort:updated-desc created:>=2025-10-01T00:00:00Z",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := buildSearchQuery(tc.query); got != tc.want {
				t.Fatalf("buildSearchQuery() = %q, want %q", got, tc.want)
			}
		})
	}
}
