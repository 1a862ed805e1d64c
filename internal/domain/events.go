package domain

import "time"

// EventKind tags a notification event.
type EventKind string

const (
	EventRequested EventKind = "REQUESTED"
	EventApproved  EventKind = "APPROVED"
	EventRejected  EventKind = "REJECTED"
	EventCancelled EventKind = "CANCELLED"
)

// Event is a notification about a document. Kind selects which of the
// optional fields are meaningful: Sequence for REQUESTED, Comment for
// REJECTED.
type Event struct {
	Kind          EventKind
	DocumentID    string
	DocumentTitle string
	DrafterName   string
	Sequence      int
	Comment       string
	OccurredAt    time.Time
}

// RequestedEvent asks the approver at sequence to review doc.
func RequestedEvent(doc *ApprovalDocument, drafterName string, sequence int, at time.Time) Event {
	return Event{
		Kind:          EventRequested,
		DocumentID:    doc.ID,
		DocumentTitle: doc.Title,
		DrafterName:   drafterName,
		Sequence:      sequence,
		OccurredAt:    at,
	}
}

// ApprovedEvent announces that the whole chain approved doc.
func ApprovedEvent(doc *ApprovalDocument, drafterName string, at time.Time) Event {
	return Event{
		Kind:          EventApproved,
		DocumentID:    doc.ID,
		DocumentTitle: doc.Title,
		DrafterName:   drafterName,
		OccurredAt:    at,
	}
}

// RejectedEvent tells the drafter that doc was rejected and why.
func RejectedEvent(doc *ApprovalDocument, drafterName, comment string, at time.Time) Event {
	return Event{
		Kind:          EventRejected,
		DocumentID:    doc.ID,
		DocumentTitle: doc.Title,
		DrafterName:   drafterName,
		Comment:       comment,
		OccurredAt:    at,
	}
}

// CancelledEvent tells approvers that the drafter withdrew doc.
func CancelledEvent(doc *ApprovalDocument, drafterName string, at time.Time) Event {
	return Event{
		Kind:          EventCancelled,
		DocumentID:    doc.ID,
		DocumentTitle: doc.Title,
		DrafterName:   drafterName,
		OccurredAt:    at,
	}
}
