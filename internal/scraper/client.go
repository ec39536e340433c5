package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/onnwee/reddit-scraper-fleet/internal/circuitbreaker"
	"github.com/onnwee/reddit-scraper-fleet/internal/httpx"
	"github.com/onnwee/reddit-scraper-fleet/internal/redditapi"
)

const defaultBaseURL = "https://oauth.reddit.com"

// authenticatedGet issues a GET with the OAuth bearer token and the
// account's User-Agent. Retries and pacing come from the shared retry
// helper; the pre-attempt hook blocks on the oracle so retries never jump
// the queue.
func (w *Worker) authenticatedGet(ctx context.Context, rawURL string) (*http.Response, error) {
	token, err := w.tokens.Token()
	if err != nil {
		return nil, err
	}
	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", w.userAgent)
		return req, nil
	}
	pre := func(ctx context.Context, attempt int) error { return w.oracle.AwaitCapacity(ctx) }
	return httpx.DoWithRetryFactory(w.httpClient, build, pre)
}

// doGet runs one fetch through the circuit breaker. Upstream trouble (5xx,
// transport errors) feeds the breaker; rate limiting does not, since the
// oracle already paces for it.
func (w *Worker) doGet(ctx context.Context, rawURL string) (*http.Response, error) {
	if !w.breaker.Allow() {
		return nil, circuitbreaker.ErrCircuitOpen
	}
	resp, err := w.fetch(ctx, rawURL)
	if err != nil {
		w.breaker.RecordFailure()
		return nil, err
	}
	switch {
	case resp.StatusCode >= 500:
		w.breaker.RecordFailure()
	case resp.StatusCode == http.StatusTooManyRequests:
		// pacing territory, not upstream health
	default:
		w.breaker.RecordSuccess()
	}
	return resp, nil
}

func (w *Worker) listingURL(subreddit, sort string, limit int, after, timeFilter string) string {
	v := url.Values{}
	v.Set("limit", fmt.Sprintf("%d", limit))
	v.Set("raw_json", "1")
	if after != "" {
		v.Set("after", after)
	}
	if sort == "top" && timeFilter != "" {
		v.Set("t", timeFilter)
	}
	return fmt.Sprintf("%s/r/%s/%s?%s", w.baseURL, subreddit, sort, v.Encode())
}

func (w *Worker) aboutURL(subreddit string) string {
	return fmt.Sprintf("%s/r/%s/about?raw_json=1", w.baseURL, subreddit)
}

func (w *Worker) commentsURL(postID string, limit, depth int) string {
	return fmt.Sprintf("%s/comments/%s?limit=%d&depth=%d&raw_json=1", w.baseURL, postID, limit, depth)
}

func (w *Worker) moreChildrenURL(postID string, ids []string) string {
	v := url.Values{}
	v.Set("api_type", "json")
	v.Set("link_id", "t3_"+postID)
	v.Set("children", strings.Join(ids, ","))
	v.Set("raw_json", "1")
	return fmt.Sprintf("%s/api/morechildren?%s", w.baseURL, v.Encode())
}

// fetchListing pulls one listing page.
func (w *Worker) fetchListing(ctx context.Context, rawURL string) (listing, error) {
	var page listing
	resp, err := w.doGet(ctx, rawURL)
	if err != nil {
		return page, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return page, redditapi.ClassifyError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return page, fmt.Errorf("decode listing: %w", err)
	}
	return page, nil
}

// fetchAbout pulls a subreddit's about page.
func (w *Worker) fetchAbout(ctx context.Context, subreddit string) (about, error) {
	var a about
	resp, err := w.doGet(ctx, w.aboutURL(subreddit))
	if err != nil {
		return a, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return a, redditapi.ClassifyError(resp)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return a, fmt.Errorf("read about: %w", err)
	}
	if err := json.Unmarshal(body, &a); err != nil {
		return a, fmt.Errorf("decode about: %w", err)
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		a.raw = envelope.Data
	}
	return a, nil
}

// fetchCommentThread pulls a post's comment tree. The endpoint returns a
// two-element array: the post listing, then the comment forest.
func (w *Worker) fetchCommentThread(ctx context.Context, postID string, limit, depth int) ([]interface{}, error) {
	resp, err := w.doGet(ctx, w.commentsURL(postID, limit, depth))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, redditapi.ClassifyError(resp)
	}

	var payload []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode comment thread: %w", err)
	}
	if len(payload) < 2 {
		return nil, fmt.Errorf("unexpected comment thread shape")
	}

	var forest struct {
		Data struct {
			Children []interface{} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload[1], &forest); err != nil {
		return nil, fmt.Errorf("decode comment forest: %w", err)
	}
	return forest.Data.Children, nil
}

// fetchMoreChildren expands one "more" placeholder into its flat comments.
func (w *Worker) fetchMoreChildren(ctx context.Context, postID string, ids []string) ([]interface{}, error) {
	resp, err := w.doGet(ctx, w.moreChildrenURL(postID, ids))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, redditapi.ClassifyError(resp)
	}

	var payload struct {
		JSON struct {
			Data struct {
				Things []interface{} `json:"things"`
			} `json:"data"`
		} `json:"json"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode morechildren: %w", err)
	}
	return payload.JSON.Data.Things, nil
}
