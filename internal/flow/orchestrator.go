package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go"

	"github.com/kindpath/sfbtcoach/internal/genai"
	"github.com/kindpath/sfbtcoach/internal/models"
	"github.com/kindpath/sfbtcoach/internal/retrieval"
)

const (
	// MaxGenerationAttempts bounds the retry loop for one turn.
	MaxGenerationAttempts = 2
	// TemperatureStep is subtracted from the base temperature per retry.
	TemperatureStep = 0.2
	// MinTemperature floors the retry temperature schedule.
	MinTemperature = 0.3

	minReplyRunes = 80
	minSentences  = 2
)

// Reasoning spans and model chatter stripped from raw completions before
// validation.
var sanitizePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?si)思考[:：].*?(?:结论[:：]|回答[:：]|$)`),
	regexp.MustCompile(`(?si)Thoughts?:.*?(?:Answer[:：]|Conclusion[:：]|$)`),
	regexp.MustCompile(`(?si)\[.*?思考.*?\].*?\[/.*?\]`),
	regexp.MustCompile(`(?si)\(.*?thinking.*?\)`),
}

var (
	blankRunPattern      = regexp.MustCompile(`\n{3,}`)
	sentenceSplitPattern = regexp.MustCompile(`[。！？!?\.]+`)
	errorEchoPattern     = regexp.MustCompile(`(?i)error|exception|failed|无法|抱歉`)
)

// crisisFallbackReply is the scripted safety reply used when generation
// fails on a turn with raised crisis flags.
const crisisFallbackReply = "我听到你现在正经历着很难受、很不安全的事情，我真的很在乎你。" +
	"先要保证你现在是尽量安全的：如果此刻真的很危险，可以尽快联系一个你稍微信任一点的大人，" +
	"比如亲戚、老师、学校的心理老师，或者拨打 110/120，心理热线 12355 也可以先试着打一下。" +
	"在保证安全的前提下，我们也可以一点点想一想：此刻有没有哪一个人、哪一个地方，能让你觉得哪怕只安全一点点、好受一点点？"

// genericFallbackReply is the neutral companion reply for non-crisis
// generation failures.
const genericFallbackReply = "我在这里陪着你。你愿意多说一点吗？"

// Orchestrator drives bounded-retry reply generation: each attempt lowers
// the sampling temperature, sanitizes the raw completion and gates it
// through quality validation. A turn never ends without a reply.
type Orchestrator struct {
	client genai.ClientInterface
}

func NewOrchestrator(client genai.ClientInterface) *Orchestrator {
	return &Orchestrator{client: client}
}

// Generate produces the reply for one turn. It never returns an empty
// string: if every attempt errors or fails validation, the scripted
// fallback for the turn's crisis state is returned instead.
func (o *Orchestrator) Generate(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, flags models.CrisisFlags, progress retrieval.ProgressFunc) string {
	base := o.client.Temperature()
	for attempt := 0; attempt < MaxGenerationAttempts; attempt++ {
		temperature := AttemptTemperature(base, attempt)
		reportProgress(progress, fmt.Sprintf("生成中（%d/%d）...", attempt+1, MaxGenerationAttempts))

		raw, err := o.client.GenerateWithMessages(ctx, messages, temperature)
		if err != nil {
			slog.Error("Orchestrator.Generate: attempt failed", "attempt", attempt+1, "temperature", temperature, "error", err)
			continue
		}
		candidate := SanitizeReply(raw)
		if IsValidReply(candidate) {
			return candidate
		}
		slog.Warn("Orchestrator.Generate: candidate rejected by validation", "attempt", attempt+1, "runes", utf8.RuneCountInString(candidate))
	}
	return FallbackReply(flags)
}

// AttemptTemperature returns the sampling temperature for the given
// zero-based attempt. The schedule is monotonically non-increasing and
// floored at MinTemperature.
func AttemptTemperature(base float64, attempt int) float64 {
	return math.Max(MinTemperature, base-TemperatureStep*float64(attempt))
}

// SanitizeReply strips reasoning spans and meta chatter from a raw
// completion and collapses excess blank lines.
func SanitizeReply(raw string) string {
	cleaned := raw
	for _, p := range sanitizePatterns {
		cleaned = p.ReplaceAllString(cleaned, "")
	}
	cleaned = blankRunPattern.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

// IsValidReply gates a sanitized candidate: it must be non-empty, long
// enough to be substantive, contain at least two sentences, and not echo
// error vocabulary back at the child.
func IsValidReply(reply string) bool {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return false
	}
	if utf8.RuneCountInString(trimmed) < minReplyRunes {
		return false
	}
	if countSentences(trimmed) < minSentences {
		return false
	}
	return !errorEchoPattern.MatchString(trimmed)
}

// FallbackReply returns the scripted reply for a failed generation,
// safety-focused when any crisis flag is raised.
func FallbackReply(flags models.CrisisFlags) string {
	if flags.Any {
		return crisisFallbackReply
	}
	return genericFallbackReply
}

func countSentences(text string) int {
	n := 0
	for _, part := range sentenceSplitPattern.Split(text, -1) {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}

// reportProgress invokes the caller's progress callback, shielding the
// turn from callback panics.
func reportProgress(progress retrieval.ProgressFunc, message string) {
	if progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Orchestrator: progress callback panicked", "recovered", r)
		}
	}()
	progress(message)
}
