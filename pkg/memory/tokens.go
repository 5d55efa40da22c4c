package memory

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// budgeter truncates recalled context to fit a token budget so a large
// recall result never crowds out the prompt the agent is about to send.
type budgeter struct {
	enc *tiktoken.Tiktoken
}

func newBudgeter() *budgeter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &budgeter{enc: nil}
	}
	return &budgeter{enc: enc}
}

// fit joins snippets with blank lines, keeping whole snippets from the
// start while they fit in maxTokens and dropping the rest rather than
// cutting mid-snippet. The first snippet is always kept, even when it
// alone exceeds maxTokens. Without a tokenizer every snippet is joined
// with no budget check.
func (b *budgeter) fit(snippets []string, maxTokens int) string {
	if len(snippets) == 0 || maxTokens <= 0 {
		return ""
	}
	if b.enc == nil {
		return strings.Join(snippets, "\n\n")
	}

	var kept []string
	used := 0
	for _, s := range snippets {
		n := len(b.enc.Encode(s, nil, nil))
		if used+n > maxTokens && len(kept) > 0 {
			break
		}
		kept = append(kept, s)
		used += n
		if used >= maxTokens {
			break
		}
	}
	return strings.Join(kept, "\n\n")
}
