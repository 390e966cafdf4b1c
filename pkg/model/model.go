package model

import (
	"time"
)

// Transcript is a stream-highlight transcript read from disk.
// Path is the source file; the script cache and sibling assets
// (cover, screenshot, output image) derive their paths from it.
type Transcript struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// Room carries the per-room settings resolved from configuration.
// A zero Room is valid and means "no room-specific overrides".
type Room struct {
	ID                   string `json:"id"`
	CharacterDescription string `json:"character_description"`
	ReferenceImage       string `json:"reference_image"` // configured path, may be empty
	ScriptPrompt         string `json:"script_prompt"`   // custom template body, may be empty
	ImagePrompt          string `json:"image_prompt"`    // custom template body, may be empty
}

// GenerationRequest bundles everything one orchestration run needs.
// Immutable once built.
type GenerationRequest struct {
	Transcript      Transcript `json:"transcript"`
	Room            Room       `json:"room"`
	ReferenceImages []string   `json:"reference_images"` // ordered, position 0 is the primary character reference
}

// ScriptResult is the outcome of the text-generation stage.
// WasGenerated=false marks "raw input echoed back because every
// provider failed"; it gates image generation downstream.
type ScriptResult struct {
	Text         string `json:"text"`
	WasGenerated bool   `json:"was_generated"`
	Source       string `json:"source"` // generated, cached, fallback
}

// How the script of a run was obtained.
const (
	ScriptGenerated = "generated"
	ScriptCached    = "cached"
	ScriptFallback  = "fallback"
)

// Artifact is the final downloadable/decodable output of a generation.
// The caller owns it exclusively once returned.
type Artifact struct {
	Path string `json:"path"`
	MIME string `json:"mime"`
}

// RunRecord is one completed orchestration, persisted for history.
type RunRecord struct {
	TranscriptPath string        `json:"transcript_path"`
	RoomID         string        `json:"room_id"`
	ScriptPath     string        `json:"script_path"`
	ScriptSource   string        `json:"script_source"` // generated, cached, fallback
	ImagePath      string        `json:"image_path"`    // empty when no image was produced
	Provider       string        `json:"provider"`      // winning image provider, empty on no result
	Model          string        `json:"model"`
	Elapsed        time.Duration `json:"elapsed"`
	CreatedAt      time.Time     `json:"created_at"`
}
