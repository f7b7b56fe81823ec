package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// FormatVersion is the current on-disk schema version of the release record.
// Load rejects records written with any other version.
const FormatVersion = 2

// Phase is one stage of the release pipeline. Phases are strictly ordered;
// Failed and RolledBack are terminal.
type Phase int

const (
	PhaseValidation Phase = iota
	PhaseCleanupConflicts
	PhaseVersionBump
	PhaseCreateDraftRelease
	PhaseBuild
	PhaseBundle
	PhaseUpload
	PhasePublishRelease
	PhaseCompleted
	PhaseFailed
	PhaseRolledBack
)

var phaseNames = map[Phase]string{
	PhaseValidation:         "Validation",
	PhaseCleanupConflicts:   "CleanupConflicts",
	PhaseVersionBump:        "VersionBump",
	PhaseCreateDraftRelease: "CreateDraftRelease",
	PhaseBuild:              "Build",
	PhaseBundle:             "Bundle",
	PhaseUpload:             "Upload",
	PhasePublishRelease:     "PublishRelease",
	PhaseCompleted:          "Completed",
	PhaseFailed:             "Failed",
	PhaseRolledBack:         "RolledBack",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// ParsePhase converts a phase name back to its Phase value.
func ParsePhase(name string) (Phase, error) {
	for p, n := range phaseNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", name)
}

// Terminal reports whether the phase ends the pipeline.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseRolledBack
}

// Progress returns a rough completion percentage for status display.
func (p Phase) Progress() float64 {
	switch p {
	case PhaseValidation:
		return 5
	case PhaseCleanupConflicts:
		return 10
	case PhaseVersionBump:
		return 15
	case PhaseCreateDraftRelease:
		return 20
	case PhaseBuild:
		return 40
	case PhaseBundle:
		return 60
	case PhaseUpload:
		return 80
	case PhasePublishRelease:
		return 90
	case PhaseCompleted:
		return 100
	default:
		return 0
	}
}

// MarshalJSON writes the phase by name so the state file stays readable.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParsePhase(name)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// BumpKind selects the semantic-version component to bump.
type BumpKind string

const (
	BumpMajor      BumpKind = "major"
	BumpMinor      BumpKind = "minor"
	BumpPatch      BumpKind = "patch"
	BumpPrerelease BumpKind = "prerelease"
)

// Valid reports whether the bump kind is one of the four known kinds.
func (b BumpKind) Valid() bool {
	switch b {
	case BumpMajor, BumpMinor, BumpPatch, BumpPrerelease:
		return true
	}
	return false
}

// ReleaseRecord is the persisted description of an in-flight release.
type ReleaseRecord struct {
	FormatVersion int             `json:"format_version"`
	SaveVersion   uint64          `json:"save_version"`
	ReleaseID     string          `json:"release_id"`
	TargetVersion string          `json:"target_version"`
	VersionBump   BumpKind        `json:"version_bump"`
	StartedAt     time.Time       `json:"started_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CurrentPhase  Phase           `json:"current_phase"`
	Checkpoints   []Checkpoint    `json:"checkpoints"`
	HostState     *HostState      `json:"host_state,omitempty"`
	Errors        []ReleaseError  `json:"errors"`
	Config        ReleaseConfig   `json:"config"`
}

// Checkpoint marks completion of a named step within a phase.
type Checkpoint struct {
	Name      string          `json:"name"`
	Phase     Phase           `json:"phase"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// HostState tracks remote objects created on the release host.
type HostState struct {
	Owner          string   `json:"owner"`
	Repo           string   `json:"repo"`
	ReleaseID      int64    `json:"release_id,omitempty"`
	URL            string   `json:"url,omitempty"`
	Draft          bool     `json:"draft"`
	UploadedAssets []string `json:"uploaded_asset_filenames"`
}

// ReleaseError is one error recorded against the release.
type ReleaseError struct {
	Phase       Phase     `json:"phase"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	Timestamp   time.Time `json:"timestamp"`
}

// ReleaseConfig is the copy of the chosen release options kept on the record
// so a resumed run can detect option drift.
type ReleaseConfig struct {
	NoPush                bool   `json:"no_push"`
	RebuildImage          bool   `json:"rebuild_image"`
	GitHubRepo            string `json:"github_repo,omitempty"`
	ContinueOnGitHubError bool   `json:"continue_on_github_error"`
}

// NewReleaseRecord creates a fresh record at the Validation phase.
func NewReleaseRecord(targetVersion string, bump BumpKind, releaseID string, cfg ReleaseConfig) *ReleaseRecord {
	now := time.Now().UTC()
	return &ReleaseRecord{
		FormatVersion: FormatVersion,
		ReleaseID:     releaseID,
		TargetVersion: targetVersion,
		VersionBump:   bump,
		StartedAt:     now,
		UpdatedAt:     now,
		CurrentPhase:  PhaseValidation,
		Checkpoints:   []Checkpoint{},
		Errors:        []ReleaseError{},
		Config:        cfg,
	}
}

// AddCheckpoint appends a checkpoint for the record's current phase.
func (r *ReleaseRecord) AddCheckpoint(name string, data json.RawMessage) {
	r.Checkpoints = append(r.Checkpoints, Checkpoint{
		Name:      name,
		Phase:     r.CurrentPhase,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

// AddError appends an error entry against the given phase.
func (r *ReleaseRecord) AddError(phase Phase, msg string, recoverable bool) {
	r.Errors = append(r.Errors, ReleaseError{
		Phase:       phase,
		Message:     msg,
		Recoverable: recoverable,
		Timestamp:   time.Now().UTC(),
	})
}

// HasCheckpoint reports whether a checkpoint with the given name exists.
func (r *ReleaseRecord) HasCheckpoint(name string) bool {
	for _, cp := range r.Checkpoints {
		if cp.Name == name {
			return true
		}
	}
	return false
}

// Active reports whether the record describes an unfinished release.
func (r *ReleaseRecord) Active() bool {
	return !r.CurrentPhase.Terminal()
}
