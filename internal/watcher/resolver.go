package watcher

import (
	"context"
	"log/slog"
	"strings"

	"github.com/relaybot/relay/internal/github"
)

const (
	// maxBodyChars bounds the base body carried in the task context.
	maxBodyChars = 3000
)

// resolveIssuePull fills the context from an issue or pull request detail.
// The subject author is the default actor; the latest comment, when present
// and fetchable, overrides both actor and instruction. A failed base-detail
// fetch aborts the event; a failed latest-comment fetch does not.
func (h *Handler) resolveIssuePull(ctx context.Context, note *github.Notification, kind EventKind, tc *TaskContext) (*Trigger, error) {
	issue, err := h.client.GetIssue(ctx, note.Subject.URL)
	if err != nil {
		return nil, err
	}

	tc.IssueNumber = issue.Number
	tc.Title = issue.Title
	tc.IssueBody = truncate(issue.Body, maxBodyChars)
	tc.subjectAuthor = issue.User.Login
	tc.baseBody = issue.Body

	trigger := &Trigger{
		Actor:       issue.User.Login,
		Instruction: issue.Body,
	}

	if note.Subject.LatestCommentURL != "" {
		if comment, err := h.client.GetComment(ctx, note.Subject.LatestCommentURL); err != nil {
			h.logger.Debug("latest comment fetch failed, keeping subject author",
				slog.String("event_id", note.ID),
				slog.Any("error", err),
			)
		} else {
			if login := comment.AuthorLogin(); login != "" {
				trigger.Actor = login
			}
			trigger.Instruction = comment.Body
		}
	}

	if kind == KindPullRequest {
		if issue.Head != nil {
			tc.HeadRef = issue.Head.Ref
			if issue.Head.Repo != nil {
				tc.CloneURL = issue.Head.Repo.CloneURL
			}
		}
		if issue.Base != nil {
			tc.BaseRef = issue.Base.Ref
		}
	}
	if tc.CloneURL == "" {
		tc.CloneURL = note.Repository.HTMLURL + ".git"
	}

	return trigger, nil
}

// resolveDiscussion fetches the discussion through its durable node
// identifier, which survives locator drift on the REST side.
func (h *Handler) resolveDiscussion(ctx context.Context, note *github.Notification, tc *TaskContext) (*Trigger, error) {
	thread, err := h.client.GetThread(ctx, note.URL)
	if err != nil {
		return nil, err
	}
	discussion, err := h.client.DiscussionByNode(ctx, thread.Subject.NodeID)
	if err != nil {
		return nil, err
	}
	if discussion == nil {
		return nil, nil
	}

	tc.IssueNumber = discussion.Number
	tc.Title = discussion.Title
	tc.IssueBody = truncate(discussion.Body, maxBodyChars)
	tc.subjectAuthor = discussion.Author.Login
	tc.baseBody = discussion.Body
	tc.CloneURL = note.Repository.HTMLURL + ".git"

	trigger := &Trigger{
		Actor:       discussion.Author.Login,
		Instruction: discussion.Body,
	}

	if note.Subject.LatestCommentURL != "" {
		if comment, err := h.client.GetComment(ctx, note.Subject.LatestCommentURL); err == nil {
			if login := comment.AuthorLogin(); login != "" {
				trigger.Actor = login
			}
			trigger.Instruction = comment.Body
		}
	}

	return trigger, nil
}

// resolveCommit defaults the trigger to the most recent commit comment.
// A commit with no comments has no actor and the event is dropped.
func (h *Handler) resolveCommit(ctx context.Context, note *github.Notification, tc *TaskContext) (*Trigger, error) {
	tc.CloneURL = note.Repository.HTMLURL + ".git"
	if i := strings.LastIndex(note.Subject.URL, "/"); i >= 0 {
		tc.CommitSHA = note.Subject.URL[i+1:]
	}

	comments, err := h.client.ListCommitComments(ctx, note.Subject.URL)
	if err != nil {
		return nil, err
	}
	if len(comments) == 0 {
		return nil, nil
	}

	last := comments[len(comments)-1]
	return &Trigger{
		Actor:       last.AuthorLogin(),
		Instruction: last.Body,
	}, nil
}

// ScanMention returns the most recent timeline item containing the handle,
// most recent by CreatedAt regardless of the order the assembler produced
// (discussion timelines interleave threaded replies with later top-level
// comments). When no timeline item matches, the base body is the fallback if
// and only if it contains the handle itself, attributed to the subject
// author. Returns nil when nothing addresses the bot.
func ScanMention(items []DiscussionItem, baseBody, baseAuthor, handle string) *Trigger {
	var latest *DiscussionItem
	for i := range items {
		if !containsHandle(items[i].Body, handle) {
			continue
		}
		if latest == nil || !items[i].CreatedAt.Before(latest.CreatedAt) {
			latest = &items[i]
		}
	}
	if latest != nil {
		item := *latest
		return &Trigger{
			Actor:       item.Author,
			Instruction: item.Body,
			Item:        &item,
		}
	}
	if containsHandle(baseBody, handle) {
		return &Trigger{Actor: baseAuthor, Instruction: baseBody}
	}
	return nil
}

// ScanMentions collects every timeline item containing the handle whose
// dedup key has not been dispatched yet, in chronological order. Each result
// flows through the remaining pipeline stages as its own unit of work.
func ScanMentions(items []DiscussionItem, handle string, dispatched func(itemID string) bool) []*Trigger {
	var triggers []*Trigger
	for i := range items {
		if !containsHandle(items[i].Body, handle) {
			continue
		}
		if dispatched != nil && dispatched(items[i].ID) {
			continue
		}
		item := items[i]
		triggers = append(triggers, &Trigger{
			Actor:       item.Author,
			Instruction: item.Body,
			Item:        &item,
		})
	}
	return triggers
}

// containsHandle is a case-insensitive substring match.
func containsHandle(body, handle string) bool {
	if handle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(body), strings.ToLower(handle))
}

// truncate bounds s to max characters.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
