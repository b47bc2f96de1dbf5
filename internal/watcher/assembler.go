package watcher

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/relaybot/relay/internal/github"
)

const (
	// maxDiffChars bounds the pull request patch carried in the context.
	maxDiffChars = 6000
)

// assemblePull populates the diff and merges the three timeline families of
// a pull request into one ordered sequence. Every facet is best-effort: a
// failed fetch contributes nothing and the assembly continues.
func (h *Handler) assemblePull(ctx context.Context, note *github.Notification, tc *TaskContext) []DiscussionItem {
	repo := note.Repository.FullName
	number := tc.IssueNumber

	if diff, err := h.client.GetDiff(ctx, repo, number); err != nil {
		h.logger.Debug("diff fetch failed", slog.String("event_id", note.ID), slog.Any("error", err))
	} else {
		tc.Diff = truncate(diff, maxDiffChars)
	}

	var items []DiscussionItem

	if comments, err := h.client.ListIssueComments(ctx, repo, number); err != nil {
		h.logger.Debug("comment fetch failed", slog.String("event_id", note.ID), slog.Any("error", err))
	} else {
		for _, c := range comments {
			items = append(items, DiscussionItem{
				ID:        strconv.FormatInt(c.ID, 10),
				Kind:      ItemComment,
				Author:    c.AuthorLogin(),
				Body:      c.Body,
				CreatedAt: c.CreatedAt,
			})
		}
	}

	if reviews, err := h.client.ListReviews(ctx, repo, number); err != nil {
		h.logger.Debug("review fetch failed", slog.String("event_id", note.ID), slog.Any("error", err))
	} else {
		for _, r := range reviews {
			items = append(items, DiscussionItem{
				ID:        strconv.FormatInt(r.ID, 10),
				Kind:      ItemReview,
				Author:    r.User.Login,
				Body:      r.Body,
				State:     r.State,
				CreatedAt: r.SubmittedAt,
			})
		}
	}

	if reviewComments, err := h.client.ListReviewComments(ctx, repo, number); err != nil {
		h.logger.Debug("review comment fetch failed", slog.String("event_id", note.ID), slog.Any("error", err))
	} else {
		for _, rc := range reviewComments {
			items = append(items, DiscussionItem{
				ID:        strconv.FormatInt(rc.ID, 10),
				Kind:      ItemReviewComment,
				Author:    rc.User.Login,
				Body:      rc.Body,
				Path:      rc.Path,
				BatchID:   strconv.FormatInt(rc.PullRequestReviewID, 10),
				CreatedAt: rc.CreatedAt,
			})
		}
	}

	sortItems(items)
	return items
}

// assembleIssue fetches the plain discussion comments of an issue.
func (h *Handler) assembleIssue(ctx context.Context, note *github.Notification, tc *TaskContext) []DiscussionItem {
	comments, err := h.client.ListIssueComments(ctx, note.Repository.FullName, tc.IssueNumber)
	if err != nil {
		h.logger.Debug("comment fetch failed", slog.String("event_id", note.ID), slog.Any("error", err))
		return nil
	}

	items := make([]DiscussionItem, 0, len(comments))
	for _, c := range comments {
		items = append(items, DiscussionItem{
			ID:        strconv.FormatInt(c.ID, 10),
			Kind:      ItemComment,
			Author:    c.AuthorLogin(),
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		})
	}
	sortItems(items)
	return items
}

// assembleDiscussion fetches discussion comments with one level of threaded
// replies, flattened depth-first: each parent is followed by its replies in
// timestamp order.
func (h *Handler) assembleDiscussion(ctx context.Context, note *github.Notification, tc *TaskContext) []DiscussionItem {
	owner, name, ok := splitRepo(note.Repository.FullName)
	if !ok {
		return nil
	}

	comments, err := h.client.ListDiscussionComments(ctx, owner, name, tc.IssueNumber)
	if err != nil {
		h.logger.Debug("discussion comment fetch failed", slog.String("event_id", note.ID), slog.Any("error", err))
		return nil
	}

	var items []DiscussionItem
	for _, c := range comments {
		items = append(items, DiscussionItem{
			ID:        c.ID,
			Kind:      ItemComment,
			Author:    c.Author.Login,
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		})
		replies := make([]*github.DiscussionComment, len(c.Replies))
		copy(replies, c.Replies)
		sort.SliceStable(replies, func(i, j int) bool {
			return replies[i].CreatedAt.Before(replies[j].CreatedAt)
		})
		for _, reply := range replies {
			items = append(items, DiscussionItem{
				ID:        reply.ID,
				Kind:      ItemComment,
				Author:    reply.Author.Login,
				Body:      reply.Body,
				CreatedAt: reply.CreatedAt,
			})
		}
	}
	return items
}

// assembleCommit uses the commit's comments as the timeline.
func (h *Handler) assembleCommit(ctx context.Context, note *github.Notification) []DiscussionItem {
	comments, err := h.client.ListCommitComments(ctx, note.Subject.URL)
	if err != nil {
		h.logger.Debug("commit comment fetch failed", slog.String("event_id", note.ID), slog.Any("error", err))
		return nil
	}

	items := make([]DiscussionItem, 0, len(comments))
	for _, c := range comments {
		items = append(items, DiscussionItem{
			ID:        strconv.FormatInt(c.ID, 10),
			Kind:      ItemComment,
			Author:    c.AuthorLogin(),
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		})
	}
	sortItems(items)
	return items
}

// FocusReviewBatch narrows a timeline to one review round: the batch summary
// plus the inline comments sharing its batch identifier, in timeline order.
// Used when the trigger itself is a review or an inline code comment, where
// the actor is clearly discussing that specific round.
func FocusReviewBatch(items []DiscussionItem, trigger *DiscussionItem) []DiscussionItem {
	batchID := trigger.BatchID
	if trigger.Kind == ItemReview {
		batchID = trigger.ID
	}
	if batchID == "" {
		return []DiscussionItem{*trigger}
	}

	var focused []DiscussionItem
	for _, item := range items {
		switch {
		case item.Kind == ItemReview && item.ID == batchID:
			focused = append(focused, item)
		case item.Kind == ItemReviewComment && item.BatchID == batchID:
			focused = append(focused, item)
		}
	}
	return focused
}

func sortItems(items []DiscussionItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

func splitRepo(fullName string) (owner, name string, ok bool) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
