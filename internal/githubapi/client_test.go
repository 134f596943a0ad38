package githubapi

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type fakeDoer struct {
	responses []*http.Response
	errors    []error
	callCount int
}

func (d *fakeDoer) Do(_ *http.Request) (*http.Response, error) {
	idx := d.callCount
	d.callCount++

	var resp *http.Response
	if idx < len(d.responses) {
		resp = d.responses[idx]
	}
	var err error
	if idx < len(d.errors) {
		err = d.errors[idx]
	}
	return resp, err
}

func newResponse(status int, headers map[string]string, body string) *http.Response {
	header := make(http.Header)
	for key, value := range headers {
		header.Set(key, value)
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestRequestClient(doer HTTPDoer, maxAttempts int) *Client {
	policy := RateLimitPolicy{
		MinRemainingThreshold: 0,
		Now: func() time.Time {
			return time.Unix(1767225600, 0)
		},
	}
	client := NewClient(doer, RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, policy)
	client.Sleep = func(time.Duration) {}
	return client
}

func TestClientDo(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		doer         *fakeDoer
		maxAttempts  int
		wantErr      bool
		wantAttempts int
		wantStatus   int
	}{
		{
			name: "succeeds_first_attempt",
			doer: &fakeDoer{
				responses: []*http.Response{
					newResponse(http.StatusOK, map[string]string{"X-RateLimit-Remaining": "4999"}, "{}"),
				},
			},
			maxAttempts:  3,
			wantAttempts: 1,
			wantStatus:   http.StatusOK,
		},
		{
			name: "retries_transient_then_succeeds",
			doer: &fakeDoer{
				responses: []*http.Response{
					newResponse(http.StatusBadGateway, nil, ""),
					newResponse(http.StatusOK, map[string]string{"X-RateLimit-Remaining": "12"}, "{}"),
				},
			},
			maxAttempts:  3,
			wantAttempts: 2,
			wantStatus:   http.StatusOK,
		},
		{
			name: "returns_last_transient_response_when_exhausted",
			doer: &fakeDoer{
				responses: []*http.Response{
					newResponse(http.StatusServiceUnavailable, nil, ""),
					newResponse(http.StatusServiceUnavailable, nil, ""),
				},
			},
			maxAttempts:  2,
			wantAttempts: 2,
			wantStatus:   http.StatusServiceUnavailable,
		},
		{
			name: "fails_after_transport_errors",
			doer: &fakeDoer{
				errors: []error{
					fmt.Errorf("connection reset"),
					fmt.Errorf("connection reset"),
				},
			},
			maxAttempts:  2,
			wantErr:      true,
			wantAttempts: 2,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := newTestRequestClient(tc.doer, tc.maxAttempts)
			req, err := http.NewRequest(http.MethodGet, "https://api.github.com/repos/acme/widgets/pulls", nil)
			if err != nil {
				t.Fatalf("build request: %v", err)
			}

			resp, metadata, err := client.Do(req)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Do() expected error, got nil")
				}
				if metadata.Attempts != tc.wantAttempts {
					t.Fatalf("attempts = %d, want %d", metadata.Attempts, tc.wantAttempts)
				}
				return
			}
			if err != nil {
				t.Fatalf("Do() unexpected error: %v", err)
			}
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			if metadata.Attempts != tc.wantAttempts {
				t.Fatalf("attempts = %d, want %d", metadata.Attempts, tc.wantAttempts)
			}
			_ = resp.Body.Close()
		})
	}
}

func TestClientDoCarriesRateHeaders(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{
		responses: []*http.Response{
			newResponse(http.StatusOK, map[string]string{
				"X-RateLimit-Remaining": "42",
				"X-RateLimit-Used":      "4958",
				"X-RateLimit-Reset":     "1767229200",
			}, "{}"),
		},
	}
	client := newTestRequestClient(doer, 1)

	req, err := http.NewRequest(http.MethodGet, "https://api.github.com/rate_limit", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, metadata, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if metadata.LastRateHeaders.Remaining != 42 {
		t.Fatalf("remaining = %d, want 42", metadata.LastRateHeaders.Remaining)
	}
	if metadata.LastRateHeaders.ResetUnix != 1767229200 {
		t.Fatalf("reset = %d, want 1767229200", metadata.LastRateHeaders.ResetUnix)
	}
	if !metadata.LastDecision.Allow {
		t.Fatalf("decision allow = false, want true")
	}
}
