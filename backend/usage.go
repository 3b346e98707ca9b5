package backend

import "unicode/utf8"

// EstimateTokens 粗略估算 token 数：约 4 个字符一个 token，向上取整。
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// estimateUsage 在后端没有返回 usage 时估算。
func estimateUsage(messages []Message, completion string) *Usage {
	prompt := 0
	for _, m := range messages {
		prompt += EstimateTokens(m.Content)
	}
	out := EstimateTokens(completion)
	return &Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
	}
}
