// Package prompts contains the system prompt text Steward sends to models.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation and can be validated by tests. A
// persona file from config.yaml may replace the built-in persona; the tool
// guides and the context block are always appended.
//
// Convention: each prompt section gets an exported function that accepts the
// dynamic parts and returns the fully interpolated text.
package prompts
