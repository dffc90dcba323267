package launch

import (
	"fmt"
	"strings"
)

// StageID identifies one stage of a launch sequence. The set is closed.
type StageID int

const (
	// StageVoices parses the scene, reconciles speakers, casts voices and
	// optionally pre-synthesizes audio.
	StageVoices StageID = iota

	// StageSfx detects sound-effect cues.
	StageSfx

	// StageCover produces the cover art reference.
	StageCover

	// StageQa runs the quality and safety checks.
	StageQa

	numStages
)

// Stages returns every stage in execution order.
func Stages() []StageID {
	return []StageID{StageVoices, StageSfx, StageCover, StageQa}
}

// String implements [fmt.Stringer].
func (id StageID) String() string {
	switch id {
	case StageVoices:
		return "voices"
	case StageSfx:
		return "sfx"
	case StageCover:
		return "cover"
	case StageQa:
		return "qa"
	default:
		return fmt.Sprintf("StageID(%d)", int(id))
	}
}

// ParseStageID maps a stage name (case-insensitive) to its ID.
func ParseStageID(name string) (StageID, error) {
	for _, id := range Stages() {
		if strings.EqualFold(name, id.String()) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("launch: unknown stage %q", name)
}

func (id StageID) valid() bool { return id >= 0 && id < numStages }

// StageStatus is the progress of one stage.
type StageStatus int

const (
	StatusPending StageStatus = iota
	StatusInProgress
	StatusSuccess
	StatusError
)

// String implements [fmt.Stringer].
func (s StageStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("StageStatus(%d)", int(s))
	}
}

// Statuses is a snapshot of every stage's status.
type Statuses [numStages]StageStatus

// Of returns the status of id.
func (s Statuses) Of(id StageID) StageStatus { return s[id] }

// String renders the snapshot as "voices=success sfx=error ...".
func (s Statuses) String() string {
	parts := make([]string, 0, numStages)
	for _, id := range Stages() {
		parts = append(parts, id.String()+"="+s[id].String())
	}
	return strings.Join(parts, " ")
}

// State is the overall state of a sequence.
type State int

const (
	StateRunning State = iota
	StateCancelled
	StateReady
	StateFailed
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// terminal reports whether no further stage can run.
func (s State) terminal() bool { return s == StateCancelled || s == StateReady }
