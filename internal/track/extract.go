package track

import "encoding/json"

// TokenCounts holds token counts recovered from a response body. Fields stay
// nil when the body did not expose them.
type TokenCounts struct {
	Input  *int64
	Output *int64
}

// Extractor parses a response body for a model name and token counts.
// Extraction failure is not an error condition; it returns empty values.
type Extractor func(body []byte) (model string, counts TokenCounts)

// extractorFor returns the provider-specific extractor, falling back to the
// generic multi-convention extractor for unrecognized providers.
func extractorFor(provider string) Extractor {
	switch provider {
	case "claude":
		return ExtractAnthropic
	case "codex":
		return ExtractOpenAI
	case "gemini":
		return ExtractGemini
	default:
		return ExtractGeneric
	}
}

// ExtractAnthropic reads the Anthropic convention:
// {"model":"...","usage":{"input_tokens":N,"output_tokens":N}}.
func ExtractAnthropic(body []byte) (string, TokenCounts) {
	var resp struct {
		Model string `json:"model"`
		Usage struct {
			InputTokens  *int64 `json:"input_tokens"`
			OutputTokens *int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", TokenCounts{}
	}
	return resp.Model, TokenCounts{Input: resp.Usage.InputTokens, Output: resp.Usage.OutputTokens}
}

// ExtractOpenAI reads the OpenAI convention:
// {"model":"...","usage":{"prompt_tokens":N,"completion_tokens":N}}.
func ExtractOpenAI(body []byte) (string, TokenCounts) {
	var resp struct {
		Model string `json:"model"`
		Usage struct {
			PromptTokens     *int64 `json:"prompt_tokens"`
			CompletionTokens *int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", TokenCounts{}
	}
	return resp.Model, TokenCounts{Input: resp.Usage.PromptTokens, Output: resp.Usage.CompletionTokens}
}

// ExtractGemini reads the Gemini convention:
// {"modelVersion":"...","usageMetadata":{"promptTokenCount":N,"candidatesTokenCount":N}}.
func ExtractGemini(body []byte) (string, TokenCounts) {
	var resp struct {
		ModelVersion  string `json:"modelVersion"`
		UsageMetadata struct {
			PromptTokenCount     *int64 `json:"promptTokenCount"`
			CandidatesTokenCount *int64 `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", TokenCounts{}
	}
	return resp.ModelVersion, TokenCounts{
		Input:  resp.UsageMetadata.PromptTokenCount,
		Output: resp.UsageMetadata.CandidatesTokenCount,
	}
}

// ExtractGeneric tries each known convention in turn and returns the first
// one that yields any token count.
func ExtractGeneric(body []byte) (string, TokenCounts) {
	for _, extract := range []Extractor{ExtractAnthropic, ExtractOpenAI, ExtractGemini} {
		model, counts := extract(body)
		if counts.Input != nil || counts.Output != nil {
			return model, counts
		}
	}
	return "", TokenCounts{}
}
