package github

import "time"

// Notification is one entry from the notifications feed.
type Notification struct {
	ID         string     `json:"id"`
	Unread     bool       `json:"unread"`
	Reason     string     `json:"reason"`
	URL        string     `json:"url"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Subject    Subject    `json:"subject"`
	Repository Repository `json:"repository"`
}

// Subject describes what a notification is about.
type Subject struct {
	Title            string `json:"title"`
	URL              string `json:"url"`
	LatestCommentURL string `json:"latest_comment_url"`
	Type             string `json:"type"` // Issue, PullRequest, Discussion, Commit
}

// Repository represents a GitHub repository
type Repository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    User   `json:"owner"`
	HTMLURL  string `json:"html_url"`
	CloneURL string `json:"clone_url"`
}

// User represents a GitHub user
type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// Issue is the REST detail of an issue or pull request. Pull requests carry
// the head/base refs; plain issues leave them nil.
type Issue struct {
	ID        int64     `json:"id"`
	NodeID    string    `json:"node_id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	User      User      `json:"user"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Head      *Ref      `json:"head,omitempty"`
	Base      *Ref      `json:"base,omitempty"`
}

// Ref is one side of a pull request.
type Ref struct {
	Ref  string      `json:"ref"`
	SHA  string      `json:"sha"`
	Repo *Repository `json:"repo"`
}

// Comment represents an issue, commit, or discussion comment.
type Comment struct {
	ID        int64     `json:"id"`
	NodeID    string    `json:"node_id"`
	Body      string    `json:"body"`
	User      User      `json:"user"`
	Author    *User     `json:"author,omitempty"` // discussion comments use author
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthorLogin returns the comment author, preferring the discussion-style
// author field when present.
func (c *Comment) AuthorLogin() string {
	if c.Author != nil && c.Author.Login != "" {
		return c.Author.Login
	}
	return c.User.Login
}

// Review is one pull request review batch.
type Review struct {
	ID          int64     `json:"id"`
	NodeID      string    `json:"node_id"`
	Body        string    `json:"body"`
	User        User      `json:"user"`
	State       string    `json:"state"` // APPROVED, CHANGES_REQUESTED, COMMENTED
	SubmittedAt time.Time `json:"submitted_at"`
}

// ReviewComment is one inline code comment belonging to a review batch.
type ReviewComment struct {
	ID                  int64     `json:"id"`
	NodeID              string    `json:"node_id"`
	Body                string    `json:"body"`
	User                User      `json:"user"`
	Path                string    `json:"path"`
	DiffHunk            string    `json:"diff_hunk"`
	PullRequestReviewID int64     `json:"pull_request_review_id"`
	CreatedAt           time.Time `json:"created_at"`
}

// Thread is the notification thread detail, fetched by the notification URL.
// Its subject carries the durable node identifier used for discussions.
type Thread struct {
	ID      string `json:"id"`
	Subject struct {
		Title  string `json:"title"`
		URL    string `json:"url"`
		Type   string `json:"type"`
		NodeID string `json:"node_id"`
	} `json:"subject"`
}

// Discussion is the GraphQL detail of a discussion.
type Discussion struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Author struct {
		Login string `json:"login"`
	} `json:"author"`
}

// DiscussionComment is one comment from the discussion timeline, with one
// level of threaded replies.
type DiscussionComment struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	Author    struct {
		Login string `json:"login"`
	} `json:"author"`
	Replies []*DiscussionComment `json:"replies,omitempty"`
}
