package llm

// EstimateTokens returns a rough token count for a piece of text. Uses ~4
// characters per token (common English heuristic) plus a small constant for
// role framing. This is intentionally imprecise — the windower treats token
// budgets as soft limits, and a deterministic estimator keeps windowing
// reproducible without a tokenizer dependency.
func EstimateTokens(text string) int {
	const charsPerToken = 4
	const perMessageOverhead = 4 // role label, delimiters

	return len(text)/charsPerToken + perMessageOverhead
}

// TokenCost exposes the estimator as a method so the client satisfies the
// windower's cost function without importing this package's internals.
func (c *Client) TokenCost(text string) int {
	return EstimateTokens(text)
}
