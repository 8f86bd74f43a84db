package domain

import "time"

// EventType names a registry or placement event.
type EventType string

const (
	EventHostCreated       EventType = "host.created"
	EventHostUpdated       EventType = "host.updated"
	EventHostDeleted       EventType = "host.deleted"
	EventPlacementSelected EventType = "placement.selected"
	EventPlacementFailed   EventType = "placement.failed"
)

// Event represents a real-time event about a host.
type Event struct {
	Type       EventType   `json:"type"`
	ResourceID int64       `json:"resource_id"`
	Data       interface{} `json:"data,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}
