package journal

// ============================================================================
// Journal Error Definitions
// ============================================================================

import (
	"errors"
	"fmt"
)

var (
	// ErrChecksumMismatch is wrapped by ChecksumError
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")

	// ErrEmptyJournal indicates the journal holds no events
	ErrEmptyJournal = errors.New("journal: file is empty")

	// ErrJournalClosed indicates the journal is closed
	ErrJournalClosed = errors.New("journal: already closed")
)

// ChecksumError represents checksum error with detailed information
type ChecksumError struct {
	Seq      uint64 // Sequence number of failed event
	Expected uint32 // Checksum recomputed from the event
	Actual   uint32 // Checksum stored in the event
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("journal: checksum mismatch at seq=%d (expected=0x%08x, got=0x%08x)",
		e.Seq, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// CorruptionError represents an undecodable line in the journal
type CorruptionError struct {
	Line  int   // 1-based line number
	Cause error // Underlying decode error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("journal: corrupted record at line %d: %v", e.Line, e.Cause)
}

func (e *CorruptionError) Unwrap() error { return e.Cause }
