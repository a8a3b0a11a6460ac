package flow

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kindpath/sfbtcoach/internal/crisis"
	"github.com/kindpath/sfbtcoach/internal/models"
)

// HistoryWindow is the number of most recent turns rendered into the
// system prompt transcript.
const HistoryWindow = 6

// introText is the fixed opening message written as the synthetic first
// turn of a new conversation.
const introText = "我是小益，SFBT咨询师。我会倾听你的需求和感受，用耐心陪伴你一起探索改变的方法。" +
	"我们可能会一起尝试一些简单的小活动，找到让你感觉更好的方式。" +
	"如果你愿意分享你的经历或感受，随时可以告诉我。" +
	"让我们一起慢慢成长，找到属于你的小小改变！"

// IntroText returns the scripted counselor introduction.
func IntroText() string {
	return introText
}

// scoreEchoMaxRunes bounds how long a message may be while still being
// treated as a bare scale rating.
const scoreEchoMaxRunes = 10

var scorePattern = regexp.MustCompile(`\d+`)

// Cue word families for variant selection. Matching is substring-based,
// first match wins in the order checked by selectVariant.
var (
	miracleCueWords = []string{"奇迹", "不一样", "理想"}
	actionCueWords  = []string{"做", "想", "有人", "听", "吃", "走"}
	planCueWords    = []string{"问", "看", "写", "聊"}
	affectCueWords  = []string{"开心", "轻松", "没那么"}
)

const (
	variantMiracle = "\n这是第一次对话 → 在回复中要温柔地引导一个“奇迹问题”，例如“如果今晚有个小小的奇迹发生，明天醒来你会发现哪一件事情有一点点不一样？”，但不要直接说“奇迹问题”这个词。"

	variantScaling = "\n孩子描述了理想状态 → 在回复中温柔地引导一个 0–10 量表问题，例如“如果 0 分代表一点都没有发生、10 分代表已经完全实现了，你觉得现在大概在几分？”"

	variantScoreEchoFormat = "\n孩子说在 %s 分 → 在回复中要肯定孩子已经做到的部分，并引导一个例外/资源问题，例如“你是怎么做到现在有这 %s 分的？过程中有哪些事情、哪些人或者你自己的哪些努力帮到了你？”"

	variantNextStep = "\n孩子提到了一些资源或行动的可能 → 在回复中适当肯定这些资源，并引导一个“下一小步”的问题，例如“如果想再往上走一点点，你觉得可以先从哪一件很小、很可行的事情开始试一试？”"

	variantConcretize = "\n孩子已经有了一些行动计划 → 在回复中帮助孩子具体化计划，比如“你觉得大概什么时候、在哪里、和谁一起做这件事最合适？你打算怎么开始？”"

	variantStabilize = "\n孩子感觉比之前好了一些 → 在回复中先肯定这种变化，然后引导一个“稳定与扩散”的问题，例如“你觉得是什么让这种轻松/没那么难受的感觉出现的？我们可以怎么做，让这种感觉多停留一会儿，或者慢慢多一点？”"
)

const ethicsBlock = "【安全守则（不要直接照搬原文，只需在回复中体现关心和建议）】\n" +
	"1. 先表达你在乎ta、担心ta现在的状况，肯定ta愿意说出来的勇气。\n" +
	"2. 温柔提醒：安全最重要，如果感到非常危险，要尽快联系信任的大人（如父母中安全的一方、亲戚、老师、学校心理老师），或拨打 110/120。\n" +
	"3. 可以建议孩子拨打心理热线：12355 青少年热线 或 800-810-1117（免费），但不要强迫，只是提供选项。\n" +
	"4. 在给出安全和求助建议之后，再用 SFBT 的方式问一个小小的、可回答的问题，帮助ta看到哪怕一点点的可能性。\n"

const basePromptFormat = `%s你是一个严格遵循 SFBT 流程的咨询师“小益”，使用解决导向短期治疗（SFBT）的方式，像一位耐心、温柔的大朋友一样陪伴孩子。

你的回复必须遵循以下要求：
1. 只输出一段连续的、口语化的中文，对孩子说话，不要使用列表、编号或 JSON，不要出现 empathy/affirm/question/hope 等英文单词或字段名。
2. 在这一段话中，自然地包含以下要素，但不要分段标记、不要做「总结」或「说教」：
   - 共情：先用温柔、贴近生活的语言理解和照顾孩子现在的感受；
   - 资源/肯定（可选）：如果合适，可以轻轻点出孩子已经做得不错、或者已经在努力的地方；
   - SFBT 引导问题：用好奇、开放、具体的问题，引导孩子去想「例外时刻」「一点点改变」「量表分数」「下一小步行动」等，而不是讲一大堆道理；
   - 希望/陪伴结尾（可选）：用一句简单的陪伴或鼓励结尾，比如“可以一点点来”“我会陪着你慢慢想”等。
3. 语气要温柔、真诚、像聊天，不像老师讲课或家长批评，句子不要太长，适合小学生或初中生理解。
4. 不要说明你在使用什么技术，也不要解释你要做什么，只专注于对孩子的回应。
5. 下方的“最近几轮对话”“背景信息”等内容只是给你参考，帮助你理解情境，是系统提供给你的内部说明，不要在回复里提到“检索”“搜索结果”“背景信息”“上面这段文字”等，也不要照搬原文句子或网址、标题。

【如果上面的系统提醒中出现了“风险”字样，说明孩子的内容里可能涉及自杀/自伤/家暴/暴力等严重问题。此时，你在回复时需要特别注意：】
1. 一定要先表达你在乎和担心孩子现在的状况，肯定ta愿意说出来的勇气，让ta知道“你不是一个人，我在乎你”。
2. 接着要温柔、清楚地提醒：安全比什么都重要。可以简单提到一两种可选择的求助方式，比如：联系一个稍微信任的大人（如亲戚、老师、学校心理老师），或者在非常危险的时候可以考虑拨打 110/120，心理热线 12355 也可以尝试，但要用“可以”“如果你愿意”这样的说法，不要命令。
3. 在提到安全和求助之后，再用 SFBT 的方式问一个小小的、现实可行的问题，问题最好和“让自己稍微安全一点/好受一点/多一点支持”有关，比如“现在有没有一个你觉得稍微可靠一点的人，可以先跟ta说一句你现在不太好受？”等，而不是直接跳到“出去玩、做喜欢的事”。
4. 整个回复依然只是一段自然的对话，不要把这些规则说出来，只把关心、安全提示和小小的问题自然地融进话语里。

【系统内部信息，仅供你理解，不要说给孩子听】
当前 SFBT 阶段：%s
最近几轮对话（从早到晚）：
%s
孩子最新说：%s
相关背景与参考信息：
%s
【系统内部信息结束】

现在，请根据以上信息，直接给出你对孩子的一段回复。
`

// BuildEthicsBlock renders the safety directive injected at the top of the
// system prompt. The standing safety guideline is always included; when any
// crisis flag is raised a tagged alert line is prepended.
func BuildEthicsBlock(flags models.CrisisFlags) string {
	if !flags.Any {
		return ethicsBlock
	}
	line := fmt.Sprintf("【系统提醒：当前对话包含%s风险，回复时需优先关注安全与求助信息。】\n", crisis.DirectiveTag(flags))
	return line + ethicsBlock
}

// ComposePrompt assembles the full system instruction for one turn: ethics
// directive, base counseling template with stage, transcript window, the
// child's latest message and retrieved background, plus at most one
// stage-variant instruction chosen by selectVariant.
func ComposePrompt(stage models.Stage, userInput string, history []models.Interaction, retrievedContext string, flags models.CrisisFlags) string {
	if !models.IsValidStage(stage) {
		stage = models.StageGoalSetting
	}
	base := fmt.Sprintf(basePromptFormat,
		BuildEthicsBlock(flags), stage, formatHistory(history), userInput, retrievedContext)
	return base + selectVariant(userInput, history)
}

func formatHistory(history []models.Interaction) string {
	if len(history) == 0 {
		return ""
	}
	start := 0
	if len(history) > HistoryWindow {
		start = len(history) - HistoryWindow
	}
	lines := make([]string, 0, (len(history)-start)*2)
	for _, turn := range history[start:] {
		lines = append(lines, fmt.Sprintf("孩子: %s\n小益: %s", turn.UserInput, turn.BotResponse))
	}
	return strings.Join(lines, "\n")
}

// selectVariant picks the single guiding instruction appended to the base
// prompt. Conditions are checked in a fixed priority order and the first
// match wins; when nothing matches the base prompt stands alone.
func selectVariant(userInput string, history []models.Interaction) string {
	if len(history) == 0 {
		return variantMiracle
	}

	lastUser := strings.TrimSpace(userInput)
	lastBot := history[len(history)-1].BotResponse

	if containsAny(lastBot, miracleCueWords) && !scaleMentioned(lastUser, history) {
		return variantScaling
	}

	if score := scorePattern.FindString(lastUser); score != "" && utf8.RuneCountInString(lastUser) <= scoreEchoMaxRunes {
		return fmt.Sprintf(variantScoreEchoFormat, score, score)
	}

	if containsAny(strings.ToLower(lastUser), actionCueWords) && !strings.Contains(lastBot, "下一步") {
		return variantNextStep
	}

	if containsAny(lastUser, planCueWords) && !strings.Contains(lastBot, "什么时候") {
		return variantConcretize
	}

	if containsAny(lastUser, affectCueWords) {
		return variantStabilize
	}

	return ""
}

// scaleMentioned reports whether the child has brought up a scale rating,
// in this turn or any earlier one. A current message like "7分" must route
// to the score-echo variant rather than re-asking the scaling question.
func scaleMentioned(userInput string, history []models.Interaction) bool {
	if strings.Contains(userInput, "分") {
		return true
	}
	for _, turn := range history {
		if strings.Contains(turn.UserInput, "分") {
			return true
		}
	}
	return false
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
