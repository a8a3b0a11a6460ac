package flow

import (
	"strings"
	"testing"

	"github.com/kindpath/sfbtcoach/internal/crisis"
	"github.com/kindpath/sfbtcoach/internal/models"
)

func turn(user, bot string) models.Interaction {
	return models.Interaction{UserInput: user, BotResponse: bot}
}

func TestComposePrompt_FirstTurnMiracleVariant(t *testing.T) {
	prompt := ComposePrompt(models.StageGoalSetting, "我最近心情不好", nil, "", models.CrisisFlags{})
	if !strings.Contains(prompt, "这是第一次对话") {
		t.Error("first turn must select the miracle question variant")
	}
	if !strings.Contains(prompt, "奇迹问题") {
		t.Error("miracle variant instruction missing")
	}
}

func TestComposePrompt_ScalingVariantAfterMiracle(t *testing.T) {
	history := []models.Interaction{
		turn("我最近心情不好", "如果今晚发生一个小小的奇迹，明天会有什么不一样？"),
	}
	prompt := ComposePrompt(models.StageExceptionExploration, "我希望大家都不吵架", history, "", models.CrisisFlags{})
	if !strings.Contains(prompt, "0–10 量表问题") {
		t.Error("expected scaling variant after a miracle-style bot turn")
	}
}

func TestComposePrompt_ScoreEchoBeatsScaling(t *testing.T) {
	// The child answered with a rating; the prompt must echo the score and
	// ask a resource question instead of re-asking the scale.
	history := []models.Interaction{
		turn("我希望大家都不吵架", "如果 0 分代表一点都没有发生、10 分代表完全实现了，你觉得现在在几分？这个问题你可以想一想有什么不一样。"),
	}
	prompt := ComposePrompt(models.StageScalingQuestion, "7分", history, "", models.CrisisFlags{})
	if strings.Contains(prompt, "0–10 量表问题") {
		t.Error("scaling variant must not repeat once a score is given")
	}
	if !strings.Contains(prompt, "孩子说在 7 分") {
		t.Error("expected the score echo variant carrying the rating 7")
	}
	if !strings.Contains(prompt, "这 7 分") {
		t.Error("score must be echoed inside the example question")
	}
}

func TestComposePrompt_ScoreEchoRequiresShortInput(t *testing.T) {
	history := []models.Interaction{
		turn("你好", "今天想聊什么？"),
	}
	long := "我昨天考了95分但是心情还是不好，觉得怎么努力都没有用"
	prompt := ComposePrompt(models.StageScalingQuestion, long, history, "", models.CrisisFlags{})
	if strings.Contains(prompt, "孩子说在 95 分") {
		t.Error("long messages must not be treated as bare ratings")
	}
}

func TestComposePrompt_NextStepVariant(t *testing.T) {
	history := []models.Interaction{
		turn("7分", "你是怎么做到现在有这 7 分的？"),
	}
	prompt := ComposePrompt(models.StageMiracleQuestion, "有人陪我的时候会好一点", history, "", models.CrisisFlags{})
	if !strings.Contains(prompt, "下一小步") {
		t.Error("expected the next-small-step variant for resource mentions")
	}
}

func TestComposePrompt_NextStepSuppressedByLastBot(t *testing.T) {
	history := []models.Interaction{
		turn("7分", "那你觉得下一步可以先做什么呢？"),
	}
	prompt := ComposePrompt(models.StageMiracleQuestion, "有人陪我的时候会好一点", history, "", models.CrisisFlags{})
	if strings.Contains(prompt, "下一小步") {
		t.Error("next-step variant must be suppressed when the bot just asked it")
	}
}

func TestComposePrompt_ConcretizeVariant(t *testing.T) {
	history := []models.Interaction{
		turn("有人陪我会好一点", "可以先从哪件很小的事开始试一试？"),
	}
	prompt := ComposePrompt(models.StageActionPlanning, "我可以去问一下同桌", history, "", models.CrisisFlags{})
	if !strings.Contains(prompt, "什么时候、在哪里") {
		t.Error("expected the plan concretization variant")
	}
}

func TestComposePrompt_StabilizeVariant(t *testing.T) {
	history := []models.Interaction{
		turn("嗯", "今天感觉怎么样？"),
	}
	prompt := ComposePrompt(models.StageActionPlanning, "今天没那么难受了", history, "", models.CrisisFlags{})
	if !strings.Contains(prompt, "稳定与扩散") {
		t.Error("expected the stabilize-and-extend variant for improvement cues")
	}
}

func TestComposePrompt_BaseWhenNothingMatches(t *testing.T) {
	history := []models.Interaction{
		turn("嗯", "今天感觉怎么样？"),
	}
	prompt := ComposePrompt(models.StageActionPlanning, "嗯", history, "", models.CrisisFlags{})
	if strings.Contains(prompt, "→") {
		t.Error("no variant instruction should be appended when nothing matches")
	}
}

func TestComposePrompt_CrisisDirective(t *testing.T) {
	flags := crisis.Detect("我想自杀")
	prompt := ComposePrompt(models.StageGoalSetting, "我想自杀", nil, "", flags)
	if !strings.Contains(prompt, "【系统提醒：当前对话包含自杀/轻生风险") {
		t.Error("crisis turns must carry the tagged safety directive")
	}
	if !strings.Contains(prompt, "12355") {
		t.Error("safety directive must mention the youth hotline")
	}
}

func TestComposePrompt_EthicsAlwaysPresent(t *testing.T) {
	prompt := ComposePrompt(models.StageGoalSetting, "你好", nil, "", models.CrisisFlags{})
	if !strings.Contains(prompt, "【安全守则") {
		t.Error("the standing safety guideline must always be present")
	}
	if strings.Contains(prompt, "【系统提醒") {
		t.Error("the risk line must only appear on crisis turns")
	}
}

func TestComposePrompt_HistoryWindow(t *testing.T) {
	var history []models.Interaction
	for i := 0; i < 10; i++ {
		history = append(history, turn("消息"+string(rune('0'+i)), "回复"+string(rune('0'+i))))
	}
	prompt := ComposePrompt(models.StageGoalSetting, "嗯", history, "", models.CrisisFlags{})
	if strings.Contains(prompt, "孩子: 消息3") {
		t.Error("turns older than the window must be dropped from the transcript")
	}
	if !strings.Contains(prompt, "孩子: 消息4") || !strings.Contains(prompt, "孩子: 消息9") {
		t.Error("the last six turns must appear in the transcript")
	}
}

func TestComposePrompt_RetrievedContextEmbedded(t *testing.T) {
	prompt := ComposePrompt(models.StageGoalSetting, "嗯", []models.Interaction{turn("a", "b")}, "一些参考背景", models.CrisisFlags{})
	if !strings.Contains(prompt, "一些参考背景") {
		t.Error("retrieved context must be embedded in the prompt")
	}
}

func TestComposePrompt_UnknownStageDefaults(t *testing.T) {
	prompt := ComposePrompt("坏阶段", "嗯", []models.Interaction{turn("a", "b")}, "", models.CrisisFlags{})
	if !strings.Contains(prompt, string(models.StageGoalSetting)) {
		t.Error("unknown stage must render as the initial stage")
	}
}

func TestIntroText(t *testing.T) {
	intro := IntroText()
	if !strings.Contains(intro, "小益") || !strings.Contains(intro, "SFBT") {
		t.Errorf("unexpected intro text: %s", intro)
	}
}
