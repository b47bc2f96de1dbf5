package watcher

import (
	"fmt"
	"sort"
	"strings"
)

// Compress bounds an ordered timeline to a character budget while keeping
// the earliest and the most recent context. Selection alternates one item
// from the head for every up-to-three items from the tail, so the result is
// biased toward recent discussion without discarding how the thread opened.
//
// The budget counts body characters only. Once the head item no longer fits
// the whole selection stops, even if smaller tail items would still fit;
// callers depend on this conservative cut, so keep it.
func Compress(items []DiscussionItem, budget int) string {
	if len(items) == 0 {
		return ""
	}

	sorted := make([]DiscussionItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	selected := make([]bool, len(sorted))
	head, tail := 0, len(sorted)-1
	total := 0

	for head <= tail {
		if total+len(sorted[head].Body) > budget {
			break
		}
		selected[head] = true
		total += len(sorted[head].Body)
		head++
		if head > tail {
			break
		}
		for i := 0; i < 3 && head <= tail; i++ {
			if total+len(sorted[tail].Body) > budget {
				break
			}
			selected[tail] = true
			total += len(sorted[tail].Body)
			tail--
		}
	}

	var parts []string
	prev := -1
	for i, picked := range selected {
		if !picked {
			continue
		}
		if prev >= 0 && i-prev > 1 {
			parts = append(parts, omissionMarker(i-prev-1))
		}
		parts = append(parts, renderItem(&sorted[i]))
		prev = i
	}
	return strings.Join(parts, "\n\n")
}

// RenderItems renders a timeline slice in full, without budget or omission
// markers. Used for the focused review-batch context.
func RenderItems(items []DiscussionItem) string {
	parts := make([]string, len(items))
	for i := range items {
		parts[i] = renderItem(&items[i])
	}
	return strings.Join(parts, "\n\n")
}

func renderItem(item *DiscussionItem) string {
	tag := string(item.Kind)
	switch {
	case item.Kind == ItemReviewComment && item.Path != "":
		tag = fmt.Sprintf("%s on %s", item.Kind, item.Path)
	case item.Kind == ItemReview && item.State != "":
		tag = fmt.Sprintf("%s %s", item.Kind, item.State)
	}
	return fmt.Sprintf("[%s] %s (%s): %s",
		item.CreatedAt.Format("2006-01-02 15:04:05"), item.Author, tag, item.Body)
}

func omissionMarker(skipped int) string {
	return fmt.Sprintf("[... %d items omitted ...]", skipped)
}
