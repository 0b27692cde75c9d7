package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTConnect ReasonCode = "stt_connect"
	ReasonSTTSend    ReasonCode = "stt_send"

	ReasonTTSSynthesize ReasonCode = "tts_synthesize"

	ReasonLLMStream ReasonCode = "llm_stream"
	ReasonLLMEmpty  ReasonCode = "llm_empty_response"

	ReasonAudioPlay     ReasonCode = "audio_play"
	ReasonNotConfigured ReasonCode = "not_configured"
	ReasonTransportSend ReasonCode = "transport_send"
)
