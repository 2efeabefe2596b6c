package batch

import (
	"fmt"
	"strings"
	"time"

	"larder/internal/category"
	"larder/internal/notification"
)

// Key identifies an open batch.
type Key struct {
	Category category.Category `json:"category"`
	Bucket   string            `json:"bucket"`
}

func (k Key) String() string { return string(k.Category) + "/" + k.Bucket }

// Batch is a group of notifications waiting for one delivery.
type Batch struct {
	Key      Key                         `json:"key"`
	GroupID  string                      `json:"group_id"`
	OpenedAt time.Time                   `json:"opened_at"`
	FlushAt  time.Time                   `json:"flush_at"`
	Items    []notification.Notification `json:"items"`
}

// Summary is a one-line description of the batch content.
func (b Batch) Summary() string {
	return Summarize(b.Key.Category, b.Items)
}

const summaryTitles = 3

// Summarize renders "N <category> notifications: a, b, c and K more".
func Summarize(c category.Category, items []notification.Notification) string {
	switch len(items) {
	case 0:
		return fmt.Sprintf("no %s notifications", c)
	case 1:
		if items[0].Title != "" {
			return items[0].Title
		}
		return fmt.Sprintf("1 %s notification", c)
	}
	titles := make([]string, 0, summaryTitles)
	for _, n := range items {
		if n.Title == "" {
			continue
		}
		titles = append(titles, n.Title)
		if len(titles) == summaryTitles {
			break
		}
	}
	s := fmt.Sprintf("%d %s notifications", len(items), c)
	if len(titles) == 0 {
		return s
	}
	s += ": " + strings.Join(titles, ", ")
	if rest := len(items) - len(titles); rest > 0 {
		s += fmt.Sprintf(" and %d more", rest)
	}
	return s
}
