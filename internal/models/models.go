package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkItem is a single file waiting to be copied. It is created by the listener,
// moved through the queue by value and owned by exactly one worker once dequeued.
type WorkItem struct {
	ID         string
	Path       string
	ReceivedAt time.Time
}

func NewWorkItem(path string) WorkItem {
	return WorkItem{
		ID:         uuid.NewString(),
		Path:       path,
		ReceivedAt: time.Now(),
	}
}

// CopyResult is what a worker reports after handling one item.
type CopyResult struct {
	Item    WorkItem
	Dest    string
	Written int64
	Err     error
}
