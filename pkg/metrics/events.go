package metrics

// Latency sample names recorded by the orchestrator, in milliseconds.
const (
	LatencySTT        = "stt_latency_ms"
	LatencyFirstToken = "ttft_ms"
	LatencyFirstAudio = "ttfb_ms"
	LatencyTurnE2E    = "turn_e2e_ms"
)

// Discrete event names.
const (
	EventSTTFinal             = "stt_final"
	EventLLMFirstToken        = "llm_first_token"
	EventTTSFirstByte         = "tts_first_byte"
	EventUserFinishedSpeaking = "user_finished_speaking"
	EventAIFinishedSpeaking   = "ai_finished_speaking"
	EventUserInterrupted      = "user_interrupted"
	EventTurnEnd              = "turn_end"
	EventBreakerOpen          = "breaker_open"
	EventBreakerDenied        = "breaker_denied"
)
