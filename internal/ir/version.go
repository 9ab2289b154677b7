package ir

// Version constants for the journal format and runtime.
const (
	// JournalVersion is the schema version written to journal entries.
	JournalVersion = "1"

	// EngineVersion is the storeweave runtime version.
	EngineVersion = "0.1.0"
)
