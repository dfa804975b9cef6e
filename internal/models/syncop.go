package models

import "time"

// SyncOpKind is the mutation intent carried by a sync operation.
type SyncOpKind string

const (
	SyncOpCreate  SyncOpKind = "create"
	SyncOpUpdate  SyncOpKind = "update"
	SyncOpDelete  SyncOpKind = "delete"
	SyncOpRestore SyncOpKind = "restore"
)

// SyncOpStatus is the lifecycle state of a sync operation.
type SyncOpStatus string

const (
	SyncOpPending    SyncOpStatus = "pending"
	SyncOpProcessing SyncOpStatus = "processing"
	SyncOpCompleted  SyncOpStatus = "completed"
	SyncOpFailed     SyncOpStatus = "failed"
	SyncOpCancelled  SyncOpStatus = "cancelled"
)

// SyncOperation is a durable, replayable record of a single mutation intent.
// It is created by any component that must have its write survive a crash and
// is consumed exclusively by the sync queue worker.
type SyncOperation struct {
	Id string

	Kind SyncOpKind

	// EntityKind and EntityId identify the target record in the live store.
	EntityKind string
	EntityId   string

	// Payload is the serialized mutation body (JSON).
	Payload []byte

	// Priority orders processing; higher runs first.
	Priority int

	Status SyncOpStatus

	// RetryCount never exceeds MaxRetries while Status is pending.
	RetryCount int
	MaxRetries int

	// LastError holds the most recent processing failure message.
	LastError string

	// DeviceId records the originating device.
	DeviceId string

	CreatedAt   time.Time
	ProcessedAt *time.Time

	// ExpiresAt, when set, causes the operation to be dropped at dequeue
	// time without being marked failed.
	ExpiresAt *time.Time
}
