package snapshot

import "time"

// Row is one binding's entry in a snapshot file (§3 Snapshot File Schema).
type Row struct {
	ControlName     string
	Provider        string
	ExpectFieldType string
	ExpectNumeric   bool
	ExpectElements  int
	ValueString     string
	IndirectName    string
	CAError         string
	Count           int
	Lineage         string
}

// Params are the per-run parameters written alongside the row table.
type Params struct {
	TimeStamp              time.Time
	StartTime              time.Time
	Time                   time.Time
	LoginID                string
	EffectiveUID           int
	GroupID                int
	SnapType               string
	RequestFile            string
	SnapshotFilename       string
	SnapshotDescription    string
	ElapsedTimeToCAConnect time.Duration
	ElapsedTimeToSave      time.Duration
	PendIOTime             time.Duration
}

// Set is a complete in-memory snapshot: the scalar row table, its
// parameters, and any waveform values captured alongside it.
type Set struct {
	Params    Params
	Rows      []Row
	Waveforms map[string][]float64 // ControlName -> sampled elements
}
