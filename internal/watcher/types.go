// Package watcher implements the trigger-resolution and context-compression
// pipeline: it turns a raw notification into an authorized, size-bounded task
// dispatch, at most once per addressed instruction.
package watcher

import (
	"time"
)

// EventKind is the closed set of notification subject kinds the pipeline
// understands. Anything else is dropped.
type EventKind string

const (
	KindIssue       EventKind = "issue"
	KindPullRequest EventKind = "pull_request"
	KindDiscussion  EventKind = "discussion"
	KindCommit      EventKind = "commit"
	KindUnknown     EventKind = "unknown"
)

// ParseEventKind maps the platform's subject type tag onto the closed kind set.
func ParseEventKind(subjectType string) EventKind {
	switch subjectType {
	case "Issue":
		return KindIssue
	case "PullRequest":
		return KindPullRequest
	case "Discussion":
		return KindDiscussion
	case "Commit":
		return KindCommit
	default:
		return KindUnknown
	}
}

// ItemKind tags one unit of conversation.
type ItemKind string

const (
	// ItemComment is a plain discussion comment.
	ItemComment ItemKind = "comment"
	// ItemReviewComment is an inline code comment owned by a review batch.
	ItemReviewComment ItemKind = "review_comment"
	// ItemReview is a review batch summary.
	ItemReview ItemKind = "review"
)

// DiscussionItem is one immutable unit of conversation from a subject's
// timeline.
type DiscussionItem struct {
	ID        string
	Kind      ItemKind
	Author    string
	Body      string
	CreatedAt time.Time
	// Path is the file an inline code comment is attached to.
	Path string
	// State is a review batch's outcome (APPROVED, CHANGES_REQUESTED, ...).
	State string
	// BatchID links an inline code comment to its owning review batch. It
	// is a lookup key, not a structural reference.
	BatchID string
}

// TaskContext is the working record for one notification as it moves through
// the pipeline. It is owned by exactly one handler; the serialized form is
// the dispatch payload.
type TaskContext struct {
	Repo        string `json:"repo"`
	EventType   string `json:"event_type"`
	EventID     string `json:"event_id"`
	TriggerUser string `json:"trigger_user,omitempty"`
	IssueNumber int    `json:"issue_number,omitempty"`
	CommitSHA   string `json:"commit_sha,omitempty"`
	Title       string `json:"title,omitempty"`
	IssueBody   string `json:"issue_body,omitempty"`
	Diff        string `json:"diff,omitempty"`
	Timeline    string `json:"timeline,omitempty"`
	CloneURL    string `json:"clone_url,omitempty"`
	HeadRef     string `json:"head_ref,omitempty"`
	BaseRef     string `json:"base_ref,omitempty"`

	// subjectAuthor is the base detail's author, kept for the mention-scan
	// fallback attribution. Not part of the dispatch payload.
	subjectAuthor string
	// baseBody is the untruncated base body. IssueBody is bounded for the
	// payload, but the handle test and the dispatched instruction must see
	// the full text.
	baseBody string
}

// Trigger is one resolved addressed instruction: who issued it and what was
// said. Item is set when the instruction was found in the timeline; it stays
// nil when the base body or latest comment was the trigger.
type Trigger struct {
	Actor       string
	Instruction string
	Item        *DiscussionItem
}

// DedupKey returns the identifier recorded after a successful dispatch. A
// timeline-scoped trigger gets its own key so several instructions within one
// notification dispatch independently.
func (t *Trigger) DedupKey(eventID string) string {
	if t.Item != nil && t.Item.ID != "" {
		return eventID + "#" + t.Item.ID
	}
	return eventID
}
