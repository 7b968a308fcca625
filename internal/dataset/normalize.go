package dataset

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format identifies which raw export shape a payload matched.
type Format int

const (
	FormatUnrecognized Format = iota
	FormatMessageList
	FormatChatPairs
	FormatLineTranscript
)

func (f Format) String() string {
	switch f {
	case FormatMessageList:
		return "message_list"
	case FormatChatPairs:
		return "chat_pairs"
	case FormatLineTranscript:
		return "line_transcript"
	default:
		return "unrecognized"
	}
}

// LinePrefixes are the speaker markers of the line transcript format.
type LinePrefixes struct {
	User      []string
	Assistant []string
}

// Normalizer converts raw exports into ordered turns.
type Normalizer struct {
	Prefixes    LinePrefixes
	IgnoreLines []string
}

// DefaultNormalizer knows the markers and UI boilerplate of ChatGPT share
// pages captured in Korean and English.
func DefaultNormalizer() Normalizer {
	return Normalizer{
		Prefixes: LinePrefixes{
			User:      []string{"나의 말:", "You said:"},
			Assistant: []string{"ChatGPT의 말:", "ChatGPT said:"},
		},
		IgnoreLines: []string{
			"ChatGPT",
			"로그인",
			"무료로 회원 가입",
			"ChatGPT와 익명 간의 대화의 사본입니다.",
			"대화 신고하기",
			"첨부",
			"검색",
			"학습하기",
			"음성",
			"SELECT",
			"EXPORT",
			"ChatGPT는 실수를 할 수 있습니다. 중요한 정보는 재차 확인하세요. 쿠키 기본 설정을 참고하세요.",
			"Log in",
			"Sign up for free",
			"Report conversation",
			"Attach",
			"Search",
			"Voice",
			"ChatGPT can make mistakes. Check important info.",
		},
	}
}

// Normalize parses payload with the default normalizer.
func Normalize(payload json.RawMessage) ([]Turn, Format, error) {
	return DefaultNormalizer().Normalize(payload)
}

// DetectFormat reports which raw shape payload matches, honoring the
// message list > chat pairs > line transcript precedence.
func DetectFormat(payload json.RawMessage) Format {
	fields, err := objectFields(payload)
	if err != nil {
		return FormatUnrecognized
	}
	return detectFormat(fields)
}

func detectFormat(fields map[string]json.RawMessage) Format {
	switch {
	case isJSONArray(fields["messages"]):
		return FormatMessageList
	case isJSONArray(fields["chats"]):
		return FormatChatPairs
	case isJSONArray(fields["conversation"]):
		return FormatLineTranscript
	default:
		return FormatUnrecognized
	}
}

// Normalize returns the turns of payload. It never returns turns whose user
// and assistant text are both empty.
func (n Normalizer) Normalize(payload json.RawMessage) ([]Turn, Format, error) {
	fields, err := objectFields(payload)
	if err != nil {
		return nil, FormatUnrecognized, err
	}

	format := detectFormat(fields)
	var turns []Turn
	switch format {
	case FormatMessageList:
		var messages []exportMessage
		if err := json.Unmarshal(fields["messages"], &messages); err != nil {
			return nil, format, fmt.Errorf("%w: decode messages: %v", ErrUnrecognizedFormat, err)
		}
		turns = normalizeMessages(messages)
	case FormatChatPairs:
		var chats []chatPair
		if err := json.Unmarshal(fields["chats"], &chats); err != nil {
			return nil, format, fmt.Errorf("%w: decode chats: %v", ErrUnrecognizedFormat, err)
		}
		turns = normalizeChatPairs(chats)
	case FormatLineTranscript:
		var lines []string
		if err := json.Unmarshal(fields["conversation"], &lines); err != nil {
			return nil, format, fmt.Errorf("%w: decode conversation: %v", ErrUnrecognizedFormat, err)
		}
		turns = n.normalizeLines(lines)
	default:
		return nil, format, ErrUnrecognizedFormat
	}
	if turns == nil {
		turns = []Turn{}
	}
	return turns, format, nil
}

type exportMessage struct {
	Role    string `json:"role"`
	Say     string `json:"say"`
	Text    string `json:"text"`
	Content string `json:"content"`
}

func (m exportMessage) body() string {
	switch {
	case m.Say != "":
		return m.Say
	case m.Text != "":
		return m.Text
	default:
		return m.Content
	}
}

type chatPair struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

const (
	roleNone = iota
	rolePrompt
	roleResponse
)

func messageRole(raw string) int {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prompt", "user":
		return rolePrompt
	case "response", "assistant":
		return roleResponse
	default:
		return roleNone
	}
}

func normalizeMessages(messages []exportMessage) []Turn {
	turns := make([]Turn, 0, len(messages)/2+1)
	var user, assistant string
	flush := func() {
		turn := Turn{
			Turn:      len(turns) + 1,
			User:      strings.TrimSpace(user),
			Assistant: strings.TrimSpace(assistant),
		}
		user, assistant = "", ""
		if turn.Empty() {
			return
		}
		turns = append(turns, turn)
	}

	for _, message := range messages {
		text := strings.TrimSpace(message.body())
		switch messageRole(message.Role) {
		case rolePrompt:
			if strings.TrimSpace(user) != "" && strings.TrimSpace(assistant) != "" {
				flush()
			}
			user = appendLine(user, text)
		case roleResponse:
			assistant = appendLine(assistant, text)
		}
	}
	if strings.TrimSpace(user) != "" || strings.TrimSpace(assistant) != "" {
		flush()
	}
	return turns
}

func normalizeChatPairs(chats []chatPair) []Turn {
	turns := make([]Turn, 0, len(chats))
	for i, chat := range chats {
		turn := Turn{
			Turn:      i + 1,
			User:      strings.TrimSpace(chat.User),
			Assistant: strings.TrimSpace(chat.Assistant),
		}
		if turn.Empty() {
			continue
		}
		turns = append(turns, turn)
	}
	return turns
}

func (n Normalizer) normalizeLines(lines []string) []Turn {
	var (
		turns     []Turn
		speaker   = roleNone
		user      strings.Builder
		assistant strings.Builder
	)
	flush := func() {
		turn := Turn{
			User:      n.normalizeText(user.String()),
			Assistant: n.normalizeText(assistant.String()),
		}
		user.Reset()
		assistant.Reset()
		if turn.Empty() {
			return
		}
		turn.Turn = len(turns) + 1
		turns = append(turns, turn)
	}

	for _, line := range lines {
		probe := strings.TrimLeft(line, " \t")
		if rest, ok := cutAnyPrefix(probe, n.Prefixes.User); ok {
			if speaker == roleResponse && assistant.Len() > 0 {
				flush()
			}
			speaker = rolePrompt
			user.WriteString(strings.TrimSpace(rest) + "\n")
			continue
		}
		if rest, ok := cutAnyPrefix(probe, n.Prefixes.Assistant); ok {
			speaker = roleResponse
			assistant.WriteString(strings.TrimSpace(rest) + "\n")
			continue
		}
		switch speaker {
		case rolePrompt:
			user.WriteString(line + "\n")
		case roleResponse:
			assistant.WriteString(line + "\n")
		}
	}
	if user.Len() > 0 || assistant.Len() > 0 {
		flush()
	}
	return turns
}

// normalizeText trims every line and drops blank and boilerplate lines.
func (n Normalizer) normalizeText(text string) string {
	raw := strings.Split(strings.TrimSpace(text), "\n")
	kept := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" || n.ignored(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func (n Normalizer) ignored(line string) bool {
	for _, ignore := range n.IgnoreLines {
		if line == ignore {
			return true
		}
	}
	return false
}

func cutAnyPrefix(s string, prefixes []string) (string, bool) {
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			return rest, true
		}
	}
	return "", false
}

func appendLine(acc, text string) string {
	if text == "" {
		return acc
	}
	if acc == "" {
		return text
	}
	return acc + "\n" + text
}

// SessionMeta extracts the display name and capture time of a raw export.
// The name falls back to fallbackName when the export carries no title.
func SessionMeta(payload json.RawMessage, fallbackName string) (string, *string) {
	var meta struct {
		CapturedAt string `json:"captured_at"`
		Metadata   *struct {
			Title string `json:"title"`
			Dates *struct {
				Exported string `json:"exported"`
			} `json:"dates"`
		} `json:"metadata"`
	}
	name := fallbackName
	if err := json.Unmarshal(payload, &meta); err != nil {
		return name, nil
	}

	var capturedAt *string
	if meta.CapturedAt != "" {
		capturedAt = &meta.CapturedAt
	}
	if meta.Metadata != nil {
		if title := strings.TrimSpace(meta.Metadata.Title); title != "" {
			name = "ChatGPT-" + title + ".json"
		}
		if capturedAt == nil && meta.Metadata.Dates != nil && meta.Metadata.Dates.Exported != "" {
			exported := meta.Metadata.Dates.Exported
			capturedAt = &exported
		}
	}
	return name, capturedAt
}
