package conversation

import (
	"fmt"
	"strings"
)

// Compression defaults.
const (
	DefaultMaxRounds     = 100
	DefaultSummaryRounds = 10
	maxActionSummaries   = 3
)

// Compressor bounds per-session memory. Once the history exceeds MaxRounds
// user turns, the oldest SummaryRounds-worth of turns are folded into a single
// synthesized system message; system messages always survive verbatim.
//
// Compression is idempotent in effect: after one pass the round count drops
// below MaxRounds, so a second pass with identical thresholds is a no-op.
type Compressor struct {
	MaxRounds     int
	SummaryRounds int
}

// NewCompressor builds a compressor, applying defaults for non-positive
// thresholds.
func NewCompressor(maxRounds, summaryRounds int) *Compressor {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	if summaryRounds <= 0 || summaryRounds >= maxRounds {
		summaryRounds = DefaultSummaryRounds
	}
	return &Compressor{MaxRounds: maxRounds, SummaryRounds: summaryRounds}
}

// Compress returns the bounded history and whether compression ran.
// actionSummaries describes recently completed actions; the last three are
// folded into the synthesized summary so later turns can still resolve
// back-references to them.
func (c *Compressor) Compress(messages []Message, actionSummaries []string) ([]Message, bool) {
	rounds := CountRounds(messages)
	if rounds <= c.MaxRounds {
		return messages, false
	}

	keepRounds := c.MaxRounds - c.SummaryRounds

	// Find where the most recent keepRounds rounds begin.
	cutoff := len(messages)
	seen := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			seen++
			if seen == keepRounds {
				cutoff = i
				break
			}
		}
	}

	var retainedSystem []Message
	var compressedUser []Message
	for _, msg := range messages[:cutoff] {
		if msg.Role == RoleSystem {
			retainedSystem = append(retainedSystem, msg)
			continue
		}
		if msg.Role == RoleUser {
			compressedUser = append(compressedUser, msg)
		}
	}

	summary := buildSummary(rounds-keepRounds, compressedUser, actionSummaries)

	out := make([]Message, 0, len(retainedSystem)+1+len(messages)-cutoff)
	out = append(out, retainedSystem...)
	out = append(out, summary)
	out = append(out, messages[cutoff:]...)
	return out, true
}

func buildSummary(compressedRounds int, userMessages []Message, actionSummaries []string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "[Conversation summary: %d earlier rounds compressed]", compressedRounds)

	if topics := extractTopics(userMessages); len(topics) > 0 {
		b.WriteString("\nTopics discussed: ")
		b.WriteString(strings.Join(topics, ", "))
	}

	if len(actionSummaries) > maxActionSummaries {
		actionSummaries = actionSummaries[len(actionSummaries)-maxActionSummaries:]
	}
	if len(actionSummaries) > 0 {
		b.WriteString("\nRecent completed actions: ")
		b.WriteString(strings.Join(actionSummaries, "; "))
	}

	msg := NewSystemMessage(b.String())
	msg.IsSummary = true
	return msg
}

// topicKeywords maps message substrings to the topic they indicate. Matching
// is literal and case-insensitive; the Chinese forms cover the product's
// primary market.
var topicKeywords = []struct {
	keyword string
	topic   string
}{
	{"campaign", "campaigns"},
	{"广告系列", "campaigns"},
	{"budget", "budgets"},
	{"预算", "budgets"},
	{"creative", "creatives"},
	{"image", "creatives"},
	{"广告图", "creatives"},
	{"素材", "creatives"},
	{"video", "video"},
	{"视频", "video"},
	{"report", "reporting"},
	{"performance", "reporting"},
	{"报告", "reporting"},
	{"数据", "reporting"},
	{"landing", "landing pages"},
	{"落地页", "landing pages"},
	{"insight", "market insights"},
	{"market", "market insights"},
	{"competitor", "market insights"},
	{"竞品", "market insights"},
}

func extractTopics(messages []Message) []string {
	var topics []string
	seen := map[string]struct{}{}
	for _, msg := range messages {
		content := strings.ToLower(msg.Content)
		for _, kw := range topicKeywords {
			if !strings.Contains(content, kw.keyword) {
				continue
			}
			if _, ok := seen[kw.topic]; ok {
				continue
			}
			seen[kw.topic] = struct{}{}
			topics = append(topics, kw.topic)
		}
	}
	return topics
}
