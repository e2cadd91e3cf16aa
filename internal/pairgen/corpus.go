package pairgen

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
)

// Turn is a single message in a conversation. Role is a pointer so a
// missing role field is distinguishable from an empty one.
type Turn struct {
	Role    *string `json:"role"`
	Content string  `json:"content"`
}

// Conversation is an ordered list of turns. Messages is a pointer so
// a conversation without a messages field can be detected and skipped.
type Conversation struct {
	Messages *[]Turn `json:"messages"`
}

// RoleUser and RoleAssistant are the turn roles that form a positive pair.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Corpus is a keyed collection of conversations.
type Corpus map[string]Conversation

// LoadCorpus reads a JSON conversation corpus from disk.
//
// The file maps conversation IDs to conversations:
//
//	{"conv-1": {"messages": [{"role": "user", "content": "..."}, ...]}}
func LoadCorpus(filename string) (Corpus, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}

	var corpus Corpus
	if err := sonic.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("failed to parse corpus %s: %w", filename, err)
	}
	return corpus, nil
}

// valid reports whether the conversation is well-formed: it has a
// messages field and every turn has a role.
func (c Conversation) valid() bool {
	if c.Messages == nil {
		return false
	}
	for _, turn := range *c.Messages {
		if turn.Role == nil {
			return false
		}
	}
	return true
}
