package locale

// Key identifies a user-facing message
type Key int

const (
	Welcome Key = iota
	HistoryCleared
	ResetFailed
	Typing
	ChatFailed
	ChatTimeout
	GatewayUnreachable
	RecognitionUnsupported
	InsecureContext
	RecognitionListening
	RecognitionError
	RecognitionFinished
	PlaybackFailed
	NothingToRead
	TranscriptionFailed
	NothingRecorded
	MicrophoneBusy
)

var catalog = map[string]map[Key]string{
	"ko": {
		Welcome:                "안녕하세요! 경제 지표나 뉴스에 대해 무엇이든 물어보세요.",
		HistoryCleared:         "대화 기록이 초기화되었습니다.",
		ResetFailed:            "대화 기록 초기화에 실패했습니다.",
		Typing:                 "답변을 작성하는 중...",
		ChatFailed:             "응답을 받지 못했습니다. 잠시 후 다시 시도해 주세요.",
		ChatTimeout:            "응답 시간이 초과되었습니다. 잠시 후 다시 시도해 주세요.",
		GatewayUnreachable:     "서버에 연결할 수 없습니다.",
		RecognitionUnsupported: "이 환경에서는 음성 인식을 지원하지 않습니다.",
		InsecureContext:        "음성 인식은 보안 연결(HTTPS 또는 localhost)에서만 사용할 수 있습니다.",
		RecognitionListening:   "듣고 있습니다...",
		RecognitionError:       "음성 인식 오류",
		RecognitionFinished:    "음성 인식이 종료되었습니다.",
		PlaybackFailed:         "음성 재생에 실패했습니다.",
		NothingToRead:          "읽을 답변이 없습니다.",
		TranscriptionFailed:    "음성 변환에 실패했습니다.",
		NothingRecorded:        "녹음된 음성이 없습니다.",
		MicrophoneBusy:         "마이크가 사용 중입니다.",
	},
	"en": {
		Welcome:                "Hello! Ask me anything about economic indicators or the news.",
		HistoryCleared:         "Conversation history cleared.",
		ResetFailed:            "Failed to clear the conversation history.",
		Typing:                 "Typing...",
		ChatFailed:             "No response received. Please try again shortly.",
		ChatTimeout:            "The response timed out. Please try again shortly.",
		GatewayUnreachable:     "Cannot reach the server.",
		RecognitionUnsupported: "Speech recognition is not supported in this environment.",
		InsecureContext:        "Speech recognition is only available over a secure connection (HTTPS or localhost).",
		RecognitionListening:   "Listening...",
		RecognitionError:       "Speech recognition error",
		RecognitionFinished:    "Speech recognition finished.",
		PlaybackFailed:         "Audio playback failed.",
		NothingToRead:          "There is no answer to read aloud.",
		TranscriptionFailed:    "Transcription failed.",
		NothingRecorded:        "No speech was recorded.",
		MicrophoneBusy:         "The microphone is already in use.",
	},
}

// Text returns the message for key in the language of t. Languages without
// their own catalog use English.
func Text(t Tag, key Key) string {
	if msgs, ok := catalog[t.Language()]; ok {
		if s, ok := msgs[key]; ok {
			return s
		}
	}
	return catalog["en"][key]
}
