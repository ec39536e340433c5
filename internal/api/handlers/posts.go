package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/onnwee/reddit-scraper-fleet/internal/apierr"
	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/utils"
)

const (
	postsDefaultLimit = 25
	postsMaxLimit     = 100

	commentsDefaultLimit = 100
	commentsMaxLimit     = 500
)

// PostReader is the query subset the stored-data read endpoints use.
// *db.Queries satisfies it; tests substitute fakes.
type PostReader interface {
	ListRecentPosts(ctx context.Context, subreddit string, limit, offset int32) ([]db.Post, error)
	GetPost(ctx context.Context, postID string) (db.Post, error)
	ListCommentsForPost(ctx context.Context, postID string, limit, offset int32) ([]db.Comment, error)
	SubredditsWithPosts(ctx context.Context) ([]string, error)
	GetSubredditWorkStats(ctx context.Context, subreddits []string) ([]db.SubredditWorkStats, error)
}

// pageParams reads limit/offset query params with the given defaults.
func pageParams(w http.ResponseWriter, r *http.Request, defLimit, maxLimit int32) (int32, int32, bool) {
	limit, offset := defLimit, int32(0)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("limit",
				"limit must be a positive integer"))
			return 0, 0, false
		}
		if int32(n) > maxLimit {
			n = int(maxLimit)
		}
		limit = int32(n)
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("offset",
				"offset must be a non-negative integer"))
			return 0, 0, false
		}
		offset = int32(n)
	}
	return limit, offset, true
}

type postView struct {
	PostID            string     `json:"post_id"`
	Subreddit         string     `json:"subreddit"`
	Title             string     `json:"title"`
	Author            string     `json:"author"`
	URL               string     `json:"url,omitempty"`
	Selftext          string     `json:"selftext,omitempty"`
	Score             int32      `json:"score"`
	NumComments       int32      `json:"num_comments"`
	Permalink         string     `json:"permalink,omitempty"`
	Flair             string     `json:"flair,omitempty"`
	IsSelf            bool       `json:"is_self"`
	CreatedUTC        time.Time  `json:"created_utc"`
	ScrapedAt         time.Time  `json:"scraped_at"`
	CommentsScraped   bool       `json:"comments_scraped"`
	CommentsScrapedAt *time.Time `json:"comments_scraped_at,omitempty"`
}

func toPostView(p db.Post) postView {
	v := postView{
		PostID:          p.PostID,
		Subreddit:       p.Subreddit,
		Title:           p.Title,
		Author:          p.Author,
		URL:             p.URL.String,
		Selftext:        p.Selftext.String,
		Score:           p.Score,
		NumComments:     p.NumComments,
		Permalink:       p.Permalink.String,
		Flair:           p.Flair.String,
		IsSelf:          p.IsSelf,
		CreatedUTC:      p.CreatedUTC,
		ScrapedAt:       p.ScrapedAt,
		CommentsScraped: p.CommentsScraped,
	}
	if p.CommentsScrapedAt.Valid {
		t := p.CommentsScrapedAt.Time
		v.CommentsScrapedAt = &t
	}
	return v
}

// ListPosts pages through stored posts, newest first, optionally scoped
// with ?subreddit=.
func ListPosts(q PostReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, ok := pageParams(w, r, postsDefaultLimit, postsMaxLimit)
		if !ok {
			return
		}
		subreddit := utils.NormalizeSubreddit(r.URL.Query().Get("subreddit"))

		posts, err := q.ListRecentPosts(r.Context(), subreddit, limit, offset)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		views := make([]postView, 0, len(posts))
		for _, p := range posts {
			views = append(views, toPostView(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"posts":  views,
			"count":  len(views),
			"limit":  limit,
			"offset": offset,
		})
	}
}

// GetPostByID returns one stored post.
func GetPostByID(q PostReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		post, err := q.GetPost(r.Context(), id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				apierr.WriteErrorWithContext(w, r, apierr.ResourceNotFound("Post"))
				return
			}
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, toPostView(post))
	}
}

type commentView struct {
	CommentID   string    `json:"comment_id"`
	PostID      string    `json:"post_id"`
	ParentID    string    `json:"parent_id,omitempty"`
	ParentType  string    `json:"parent_type"`
	Author      string    `json:"author"`
	Body        string    `json:"body"`
	Score       int32     `json:"score"`
	Depth       int32     `json:"depth"`
	IsSubmitter bool      `json:"is_submitter"`
	Stickied    bool      `json:"stickied"`
	CreatedUTC  time.Time `json:"created_utc"`
}

// ListPostComments pages through one post's stored comment tree in
// insertion order, which keeps parents ahead of their children.
func ListPostComments(q PostReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		limit, offset, ok := pageParams(w, r, commentsDefaultLimit, commentsMaxLimit)
		if !ok {
			return
		}

		if _, err := q.GetPost(r.Context(), id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				apierr.WriteErrorWithContext(w, r, apierr.ResourceNotFound("Post"))
				return
			}
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}

		comments, err := q.ListCommentsForPost(r.Context(), id, limit, offset)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		views := make([]commentView, 0, len(comments))
		for _, cm := range comments {
			views = append(views, commentView{
				CommentID:   cm.CommentID,
				PostID:      cm.PostID,
				ParentID:    cm.ParentID.String,
				ParentType:  cm.ParentType,
				Author:      cm.Author,
				Body:        cm.Body,
				Score:       cm.Score,
				Depth:       cm.Depth,
				IsSubmitter: cm.IsSubmitter,
				Stickied:    cm.Stickied,
				CreatedUTC:  cm.CreatedUTC,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"post_id":  id,
			"comments": views,
			"count":    len(views),
			"limit":    limit,
			"offset":   offset,
		})
	}
}

// ListSubreddits reports every subreddit with stored posts plus its
// volume and outstanding comment work.
func ListSubreddits(q PostReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := q.SubredditsWithPosts(r.Context())
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		if len(names) == 0 {
			writeJSON(w, http.StatusOK, map[string]any{"subreddits": []subredditStatsView{}, "count": 0})
			return
		}

		work, err := q.GetSubredditWorkStats(r.Context(), names)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		views := make([]subredditStatsView, 0, len(work))
		for _, ws := range work {
			views = append(views, subredditStatsView{
				Subreddit:       ws.Subreddit,
				PostCount:       ws.PostCount,
				CommentCount:    ws.CommentCount,
				PendingComments: ws.PendingComments,
				CompletionRate:  completionRate(ws.PostCount, ws.PendingComments),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"subreddits": views, "count": len(views)})
	}
}
