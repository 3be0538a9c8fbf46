package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Capture.
	ReasonDeviceUnavailable ReasonCode = "device_unavailable"
	ReasonCaptureStopped    ReasonCode = "capture_stopped"

	// Per-turn pipeline failures. All of these are non-fatal: the affected
	// turn produces no output and the pipeline moves on.
	ReasonTranscriptionFailed ReasonCode = "transcription_failed"
	ReasonDialogueFailed      ReasonCode = "dialogue_failed"
	ReasonSynthesisFailed     ReasonCode = "synthesis_failed"
	ReasonPlaybackBusy        ReasonCode = "playback_busy"

	// Session channel.
	ReasonChannelUnavailable ReasonCode = "channel_unavailable"
	ReasonChannelSend        ReasonCode = "channel_send"
	ReasonChannelClosed      ReasonCode = "channel_closed"

	// Login / registration.
	ReasonRegisterFailed ReasonCode = "register_failed"
)
