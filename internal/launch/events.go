package launch

import (
	"time"

	"github.com/MrWong99/talecast/internal/cover"
	"github.com/MrWong99/talecast/internal/qa"
	"github.com/MrWong99/talecast/internal/sfx"
	"github.com/MrWong99/talecast/internal/synth"
)

// Event is published on the updates channel. The concrete types are
// [StageUpdate], [AudioReady], [Ready], [Failed] and [Cancelled].
type Event interface {
	// Session returns the session the event belongs to.
	Session() string

	isEvent()
}

// StageUpdate reports a stage status transition.
type StageUpdate struct {
	SessionID string
	Stage     StageID
	Status    StageStatus
	Previous  StageStatus
	All       Statuses
	Message   string
}

// AudioReady reports one pre-synthesized part. Parts are published in
// order: the intro always precedes the scene.
type AudioReady struct {
	SessionID string
	Part      string
	Track     *synth.Track
}

// Ready is the terminal event of a successful sequence.
type Ready struct {
	SessionID string
	Result    *Result
}

// Failed is published when a stage fails. The sequence can still be resumed
// with RetryStage.
type Failed struct {
	SessionID   string
	FailedStage StageID
	Statuses    Statuses
	Err         error
}

// Cancelled is the terminal event of a cancelled sequence.
type Cancelled struct {
	SessionID string
	Statuses  Statuses
}

func (e StageUpdate) Session() string { return e.SessionID }
func (e AudioReady) Session() string  { return e.SessionID }
func (e Ready) Session() string       { return e.SessionID }
func (e Failed) Session() string      { return e.SessionID }
func (e Cancelled) Session() string   { return e.SessionID }

func (StageUpdate) isEvent() {}
func (AudioReady) isEvent()  {}
func (Ready) isEvent()       {}
func (Failed) isEvent()      {}
func (Cancelled) isEvent()   {}

// CastingStats summarises the Voices stage.
type CastingStats struct {
	// Speakers is the number of distinct non-narrator speakers in the scene.
	Speakers int `json:"speakers"`

	// Created lists the names of characters added to the roster.
	Created []string `json:"created,omitempty"`

	// Voices maps speaker name → voice ID.
	Voices map[string]string `json:"voices"`

	NarratorVoiceID string `json:"narrator_voice_id"`
}

// AudioPart is a pre-synthesized part of the scene.
type AudioPart struct {
	Name  string
	Track *synth.Track
}

// Result is the aggregated output of a ready sequence.
type Result struct {
	SessionID string
	SceneID   string
	Casting   CastingStats
	Cues      []sfx.Cue
	Cover     cover.Reference
	QA        qa.Report

	// Audio is empty when pre-synthesis is disabled.
	Audio []AudioPart

	Elapsed time.Duration
}
