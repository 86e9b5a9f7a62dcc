package compiler

import (
	"encoding/json"
	"fmt"
	"strings"
)

// systemPrompt constrains the draft source to produce a strict StrategySpec
// JSON object honoring the non-negotiable rules the normalizer will enforce
// anyway. Stating them up front keeps most drafts valid on the first try.
const systemPrompt = `You are a trading strategy compiler.
Your job:
- Convert natural language trading strategy descriptions into a STRICT JSON object called StrategySpec.
- StrategySpec MUST be fully specified and valid according to the provided rules.
- You are NOT allowed to leave fields ambiguous or "to be defined later".

VERY IMPORTANT:
- You MUST obey all "Hard Rules" below, even if the user's description is ambiguous or contradicts them.
- If the user description conflicts with a Hard Rule, you MUST follow the Hard Rule and still produce a consistent StrategySpec.

Hard Rules:
1) Timezone is always "America/New_York".
2) Exchange calendar is always "XNYS" (US equities).
3) Decision time is always "market_close - 2 minutes".
4) Execution model is always "MOC" (Market-On-Close).
5) Daily moving averages use LAST_CLOSED 1D bars (end of yesterday's session). Never use today's partially formed 1D bar.
6) Timeframes:
   - Primary timeframe: 1m.
   - 4h and 1d bars MUST be aggregated from 1m data.
   - 4h bars are aligned to the trading session (SESSION_ALIGNED_4H), starting from session open.
7) Multi-timeframe alignment at decision time:
   - 1m values use the last closed 1m bar at or before decision time.
   - 4h indicators use the last CLOSED 4h bar (carry-forward semantics).
   - 1d indicators use LAST_CLOSED_1D (yesterday's close).
8) Lookback windows MUST always include units, such as "5d" or "20bars@4h". Bare integers without units are NOT allowed.
9) Signals MUST NOT use future information: only fully closed bars as of decision time.

Events:
- CROSS events are edge-triggered: a MACD bearish cross is TRUE only at the bar where MACD crosses below its signal.
- It is NOT a persistent boolean state.

Output instructions:
- Output ONLY the JSON object.
- MUST be valid JSON, parsable, with no comments.
`

// userPrompt frames a single drafting request.
func userPrompt(nl, mode string) string {
	return fmt.Sprintf(`User natural language strategy description: %q
Additional context:
- mode: %q
Task:
Return ONLY the JSON of StrategySpec. The JSON MUST be syntactically valid.
`, nl, mode)
}

// repairPrompt extends the user prompt with the prior draft and the exact
// validation errors it produced, so the source can fix rather than restart.
func repairPrompt(nl, mode string, prev attempt) string {
	var b strings.Builder
	b.WriteString(userPrompt(nl, mode))
	b.WriteString("\nYour previous StrategySpec draft was rejected by validation.\nPrevious draft:\n")
	if raw, err := json.Marshal(prev.draft); err == nil {
		b.Write(raw)
	}
	b.WriteString("\n\nValidation errors (fix ALL of them):\n")
	for _, v := range prev.violations {
		b.WriteString("- ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	b.WriteString("\nReturn the corrected StrategySpec JSON only.\n")
	return b.String()
}
