package journal

// ============================================================================
// Journal Type Definitions
// Responsibility: Define the round records written by the master control loop
// ============================================================================

// EventType defines journal event types
type EventType string

const (
	EventInit      EventType = "INIT"      // Worker answered the init exchange
	EventDispatch  EventType = "DISPATCH"  // Step tree sent to every worker
	EventMerge     EventType = "MERGE"     // Worker reply merged into the driver
	EventSolve     EventType = "SOLVE"     // Driver solved the iteration
	EventBroadcast EventType = "BROADCAST" // Updated model sent to every worker
	EventQuit      EventType = "QUIT"      // Quit sentinel sent, run finished
)

// NoWorker is stored in Event.Worker for events that concern all workers.
const NoWorker = -1

// Event represents one journal record
type Event struct {
	Seq       uint64    `json:"seq"`       // Event sequence number (monotonically increasing)
	Type      EventType `json:"type"`      // Event type
	RunID     string    `json:"run_id"`    // Run the event belongs to
	Iteration int       `json:"iteration"` // Iteration number, -1 before the first
	Worker    int       `json:"worker"`    // Worker index, NoWorker for broadcasts
	Quality   float64   `json:"quality,omitempty"`
	Timestamp int64     `json:"timestamp"` // Unix millisecond timestamp
	Checksum  uint32    `json:"checksum"`  // CRC32 checksum
}

// EventHandler is the function type for processing journal events during
// Replay. Returning an error stops the replay.
type EventHandler func(event Event) error
