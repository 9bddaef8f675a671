package protocol

import "time"

// SpeakRequest asks the narrator to voice one piece of text. Long text
// is chunked sentence by sentence before synthesis.
type SpeakRequest struct {
	RequestID string    `json:"request_id,omitempty"`
	Text      string    `json:"text"`
	CacheKey  string    `json:"cache_key,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// DialogueRequest asks the narrator to voice a multi-speaker script.
// Script lines read "<Label>: <utterance>"; anything else is dropped.
type DialogueRequest struct {
	RequestID string    `json:"request_id,omitempty"`
	Script    string    `json:"script"`
	CacheKey  string    `json:"cache_key,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ControlRequest stops or clears queued narration.
type ControlRequest struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// PersonaRequest activates a narration persona by catalog name. An
// empty name clears the active persona.
type PersonaRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Name      string `json:"name"`
}

// VoiceEnrollRequest enrolls a new voice from a reference sample. An
// empty StylePrompt clones the sample; otherwise the voice is designed
// to match the prompt.
type VoiceEnrollRequest struct {
	RequestID   string `json:"request_id,omitempty"`
	Label       string `json:"label"`
	SamplePath  string `json:"sample_path"`
	StylePrompt string `json:"style_prompt,omitempty"`
}

// NarrationEvent reports pipeline progress for one request.
type NarrationEvent struct {
	RequestID string    `json:"request_id"`
	Stage     string    `json:"stage"`
	CacheKey  string    `json:"cache_key,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSpeak       = "narrate.speak"
	SubjectDialogue    = "narrate.dialogue"
	SubjectCtrlStop    = "narrate.ctrl.stop"
	SubjectCtrlClear   = "narrate.ctrl.clear"
	SubjectPersona     = "narrate.persona"
	SubjectVoiceEnroll = "narrate.voice.enroll"
	SubjectEvent       = "narrate.event"

	SubjectNodeAnnounce        = "ctrl.node.announce"
	SubjectNodeHeartbeatPrefix = "ctrl.node.heartbeat"
)

// Narration event stages.
const (
	StageQueued   = "queued"
	StagePlayed   = "played"
	StageFailed   = "failed"
	StageStopped  = "stopped"
	StageCleared  = "cleared"
	StagePersona  = "persona"
	StageEnrolled = "enrolled"
)
