package hostcap

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const tokenizerEncoding = "cl100k_base"

var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
	tokenizerErr  error
)

// CountText estimates the token count of text with the host-side tokenizer.
// The estimate is raw; callers that surface it on the wire calibrate it
// first.
func CountText(text string) (int, error) {
	tokenizerOnce.Do(func() {
		tokenizer, tokenizerErr = tiktoken.GetEncoding(tokenizerEncoding)
	})

	if tokenizerErr != nil {
		return 0, fmt.Errorf("get tokenizer encoding: %w", tokenizerErr)
	}

	return len(tokenizer.Encode(text, nil, nil)), nil
}
