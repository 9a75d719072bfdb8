package streamrelay

import (
	"encoding/json"
	"fmt"
)

type ssePayload struct {
	Choices []sseChoice `json:"choices"`
}

type sseChoice struct {
	Delta sseDelta `json:"delta"`
}

type sseDelta struct {
	Content *string `json:"content"`
}

// EncodeChunk renders one SSE data frame carrying a content delta. A nil
// content produces the opening null-delta frame some clients expect before
// the first token.
func EncodeChunk(content *string) []byte {
	payload := ssePayload{Choices: []sseChoice{{Delta: sseDelta{Content: content}}}}
	b, _ := json.Marshal(payload)
	return []byte(fmt.Sprintf("data: %s\n\n", b))
}

// EncodeDone renders the stream terminator frame.
func EncodeDone() []byte {
	return []byte("data: [DONE]\n\n")
}
