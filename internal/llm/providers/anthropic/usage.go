package anthropicprovider

import (
	anthropic "github.com/anthropics/anthropic-sdk-go"

	"snipbridge/internal/llm/core"
)

// toCoreUsage maps response usage counters to canonical usage fields.
func toCoreUsage(usage anthropic.Usage) core.Usage {
	return core.Usage{
		InputTokens:      int(usage.InputTokens),
		OutputTokens:     int(usage.OutputTokens),
		CacheReadTokens:  int(usage.CacheReadInputTokens),
		CacheWriteTokens: int(usage.CacheCreationInputTokens),
	}
}
