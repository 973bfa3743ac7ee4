package ir

// Version constants for journal records.
const (
	// RecordVersion is the journal record schema version.
	RecordVersion = "1"

	// EngineVersion is the allotment engine version.
	EngineVersion = "0.1.0"
)
