package scraper

import (
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/utils"
)

// RemotePost is one submission as returned by a listing endpoint.
type RemotePost struct {
	ID            string  `json:"id"`
	Subreddit     string  `json:"subreddit"`
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	Selftext      string  `json:"selftext"`
	URL           string  `json:"url"`
	Permalink     string  `json:"permalink"`
	LinkFlairText string  `json:"link_flair_text"`
	Score         int     `json:"score"`
	NumComments   int     `json:"num_comments"`
	CreatedUTC    float64 `json:"created_utc"`
	IsSelf        bool    `json:"is_self"`
}

// CreatedAt converts the epoch seconds Reddit reports.
func (p RemotePost) CreatedAt() time.Time {
	if p.CreatedUTC == 0 {
		return time.Now()
	}
	return time.Unix(int64(p.CreatedUTC), 0).UTC()
}

// listing is the envelope every listing endpoint wraps its children in.
type listing struct {
	Data struct {
		Children []struct {
			Kind string     `json:"kind"`
			Data RemotePost `json:"data"`
		} `json:"children"`
		After string `json:"after"`
	} `json:"data"`
}

// about is the envelope for /r/{sub}/about. raw keeps the full data
// document so the metadata store can persist fields we don't column-ize.
type about struct {
	Data struct {
		DisplayName string `json:"display_name"`
		Title       string `json:"title"`
		Description string `json:"public_description"`
		Subscribers int    `json:"subscribers"`
		Over18      bool   `json:"over18"`
	} `json:"data"`
	raw []byte
}

// RemoteComment is one comment pulled out of a thread tree.
type RemoteComment struct {
	ID               string
	ParentID         string
	Author           string
	Body             string
	Score            int
	Depth            int
	IsSubmitter      bool
	Distinguished    string
	Stickied         bool
	Edited           bool
	Controversiality int
	Gilded           int
	CreatedAt        time.Time
}

// moreNode is an unexpanded branch placeholder in a comment tree. Depth is
// where its children would sit; Children holds their bare comment IDs.
type moreNode struct {
	Depth    int
	Children []string
}

// parseCommentTree walks the nested children of a comment listing,
// flattening every t1 node down to maxDepth. Placeholder "more" nodes are
// collected separately so the caller can decide how many to expand.
func parseCommentTree(children []interface{}, depth, maxDepth int) ([]RemoteComment, []moreNode) {
	if depth > maxDepth {
		return nil, nil
	}
	var comments []RemoteComment
	var mores []moreNode
	for _, c := range children {
		node, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		kind, _ := node["kind"].(string)
		data, ok := node["data"].(map[string]interface{})
		if !ok {
			continue
		}
		if kind == "more" {
			mores = append(mores, moreNode{Depth: depth, Children: moreChildIDs(data)})
			continue
		}
		if kind != "t1" {
			continue
		}

		rc, ok := parseCommentData(data, depth)
		if !ok {
			continue
		}
		comments = append(comments, rc)

		if repliesRaw, ok := data["replies"]; ok {
			if repliesMap, ok := repliesRaw.(map[string]interface{}); ok {
				if repliesData, ok := repliesMap["data"].(map[string]interface{}); ok {
					if nestedChildren, ok := repliesData["children"].([]interface{}); ok {
						nested, nestedMores := parseCommentTree(nestedChildren, depth+1, maxDepth)
						comments = append(comments, nested...)
						mores = append(mores, nestedMores...)
					}
				}
			}
		}
	}
	return comments, mores
}

// parseCommentData extracts one t1 node. Returns false for deleted shells
// with no id or body.
func parseCommentData(data map[string]interface{}, depth int) (RemoteComment, bool) {
	id, _ := data["id"].(string)
	body, _ := data["body"].(string)
	if id == "" || body == "" {
		return RemoteComment{}, false
	}

	rc := RemoteComment{
		ID:    id,
		Body:  body,
		Depth: depth,
	}
	author, _ := data["author"].(string)
	rc.Author = utils.AuthorOrDeleted(author)
	rc.ParentID, _ = data["parent_id"].(string)
	rc.Distinguished, _ = data["distinguished"].(string)
	if v, ok := data["score"].(float64); ok {
		rc.Score = int(v)
	}
	rc.IsSubmitter, _ = data["is_submitter"].(bool)
	rc.Stickied, _ = data["stickied"].(bool)
	if v, ok := data["controversiality"].(float64); ok {
		rc.Controversiality = int(v)
	}
	if v, ok := data["gilded"].(float64); ok {
		rc.Gilded = int(v)
	}
	// Reddit sends edited as false or an epoch timestamp.
	switch v := data["edited"].(type) {
	case bool:
		rc.Edited = v
	case float64:
		rc.Edited = v > 0
	}
	if createdUTC, ok := data["created_utc"].(float64); ok {
		rc.CreatedAt = time.Unix(int64(createdUTC), 0).UTC()
	} else {
		rc.CreatedAt = time.Now()
	}
	return rc, true
}

func moreChildIDs(data map[string]interface{}) []string {
	raw, ok := data["children"].([]interface{})
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
