package source

import (
	"context"
	"fmt"
)

// SourceType identifies which platform an item came from.
type SourceType string

const (
	SourceChat    SourceType = "chat"
	SourceTracker SourceType = "tracker"
	SourceFeed    SourceType = "feed"
)

// ChannelRef describes the chat channel a message belongs to. IsDM marks
// person-to-person conversations, which feed the unread-DM signal.
type ChannelRef struct {
	ID   string
	Name string
	IsDM bool
}

// Item is the raw unit a poller hands to the ingestion contract. The store
// assigns the internal identity; (Source, SourceID) is the external key.
type Item struct {
	Source    SourceType
	SourceID  string
	Title     string
	Body      string
	CreatedAt *int64
	UpdatedAt *int64
	Author    string
	URL       string

	// Status is the lifecycle status mirrored from the source system, when
	// the platform has one (tracker tasks). Empty otherwise.
	Status string

	// Channel and TS are set for chat messages so the ingester can maintain
	// the platform tables behind the DM join.
	Channel *ChannelRef
	TS      string
}

// Source is the interface every poller implements. Collect may return both
// items and an error: a partial result from a multi-channel poll is still
// worth ingesting, and the error carries what went wrong elsewhere.
type Source interface {
	Name() SourceType
	Collect(ctx context.Context) ([]Item, error)
}

// IntegrationError marks a failure of one channel of a multi-channel poll.
// It distinguishes "something went wrong over there" from an empty result.
type IntegrationError struct {
	Channel string
	Err     error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Channel, e.Err)
}

func (e *IntegrationError) Unwrap() error { return e.Err }

func epoch(sec int64) *int64 {
	return &sec
}
