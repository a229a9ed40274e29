// Package status describes the synchronization state recorded against each table.
package status

import "time"

// SyncPhase represents the current phase of a synchronization operation
type SyncPhase string

const (
	// SyncPhaseSyncing means sync is currently in progress
	SyncPhaseSyncing SyncPhase = "Syncing"

	// SyncPhaseComplete means the last sync completed successfully
	SyncPhaseComplete SyncPhase = "Complete"

	// SyncPhaseFailed means the last sync failed
	SyncPhaseFailed SyncPhase = "Failed"
)

// FailureReason classifies why a sync failed
type FailureReason string

const (
	// ReasonSourceUnavailable is a transient failure reaching the spreadsheet
	ReasonSourceUnavailable FailureReason = "SourceUnavailable"

	// ReasonInvalidLocator means the sheet locator does not resolve to a spreadsheet
	ReasonInvalidLocator FailureReason = "InvalidLocator"

	// ReasonSchemaMismatch means the sheet cannot be shaped by the table schema
	ReasonSchemaMismatch FailureReason = "SchemaMismatch"

	// ReasonInternal covers store and other unexpected failures
	ReasonInternal FailureReason = "Internal"
)

// SyncStatus represents the current state of a table's synchronization
type SyncStatus struct {
	// Phase represents the current synchronization phase
	Phase SyncPhase `json:"phase" yaml:"phase" bson:"phase"`

	// Message provides additional information about the sync status
	Message string `json:"message,omitempty" yaml:"message,omitempty" bson:"message,omitempty"`

	// Reason classifies the last failure, empty after a success
	Reason FailureReason `json:"reason,omitempty" yaml:"reason,omitempty" bson:"reason,omitempty"`

	// Permanent is set when polling was halted and needs owner intervention
	Permanent bool `json:"permanent,omitempty" yaml:"permanent,omitempty" bson:"permanent,omitempty"`

	// LastAttempt is the timestamp of the last sync attempt
	LastAttempt *time.Time `json:"lastAttempt,omitempty" yaml:"lastAttempt,omitempty" bson:"lastAttempt,omitempty"`

	// AttemptCount is the number of sync attempts since last success
	AttemptCount int `json:"attemptCount,omitempty" yaml:"attemptCount,omitempty" bson:"attemptCount,omitempty"`

	// LastSyncTime is the timestamp of the last successful sync
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty" yaml:"lastSyncTime,omitempty" bson:"lastSyncTime,omitempty"`

	// LastSyncHash is the hash of the last successfully synced rows
	// Used to detect changes in source data
	LastSyncHash string `json:"lastSyncHash,omitempty" yaml:"lastSyncHash,omitempty" bson:"lastSyncHash,omitempty"`

	// RowCount is the number of rows in the last successful snapshot
	RowCount int `json:"rowCount,omitempty" yaml:"rowCount,omitempty" bson:"rowCount,omitempty"`
}

// Clone returns a deep copy of the status
func (s *SyncStatus) Clone() *SyncStatus {
	if s == nil {
		return nil
	}
	c := *s
	if s.LastAttempt != nil {
		t := *s.LastAttempt
		c.LastAttempt = &t
	}
	if s.LastSyncTime != nil {
		t := *s.LastSyncTime
		c.LastSyncTime = &t
	}
	return &c
}

// Halted reports whether polling was stopped permanently after a failure
func (s *SyncStatus) Halted() bool {
	return s != nil && s.Phase == SyncPhaseFailed && s.Permanent
}
