package domain

import "time"

// Snapshot is one accepted pipeline result together with its provenance.
type Snapshot struct {
	RunID       string
	Generation  uint64
	GeneratedAt time.Time
	Dataset     Dataset
	Stats       Stats
}

// Failure is the error of the most recently resolved pipeline invocation.
type Failure struct {
	Err        error
	At         time.Time
	Generation uint64
}
