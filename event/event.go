// Package event provides the in-process notification bus. Entry
// stores announce committed mutations on it and the scheduler
// announces job lifecycle changes; subscribers receive them on
// buffered channels.
package event

import (
	"time"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/id"
)

// Action classifies what happened to the announced entity.
type Action string

const (
	ActionAdded   Action = "ADDED"
	ActionChanged Action = "CHANGED"
	ActionRemoved Action = "REMOVED"
)

// Notification is one announcement on the bus. Name is the event
// source ("service.query" style for entry stores, "core.get_jobs" for
// jobs), Fields the entity snapshot after the change.
type Notification struct {
	ID      id.EventID       `json:"id"`
	Name    string           `json:"name"`
	Action  Action           `json:"action"`
	Key     any              `json:"key,omitempty"`
	Fields  coreplane.Record `json:"fields,omitempty"`
	Created time.Time        `json:"created"`
}
