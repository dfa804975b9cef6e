// Package models defines the data types persisted by the notekeeper data core.
package models

import "time"

// Item is the unit of storage: a note or a template.
type Item struct {
	// Id is a globally unique identifier for the item.
	Id string

	// Title is the human-readable name. Required.
	Title string

	// Content is the free-form body text.
	Content string

	// Category groups items; empty means uncategorized.
	Category string

	// Tags is a free-form tag set.
	Tags []string

	// IsTemplate marks reusable template items.
	IsTemplate bool

	// Archived marks items moved out of the active working set by the
	// storage optimizer. Content is retained.
	Archived bool

	// Metadata holds arbitrary per-item key/value pairs.
	Metadata map[string]string

	// CreatedAt / UpdatedAt are UTC timestamps maintained by the store.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ApproxSize returns the approximate storage footprint of the item in bytes.
// Used by the optimizer to report space reclaimed.
func (i *Item) ApproxSize() int {
	n := len(i.Title) + len(i.Content) + len(i.Category)
	for _, t := range i.Tags {
		n += len(t)
	}
	for k, v := range i.Metadata {
		n += len(k) + len(v)
	}
	return n
}
