package openaicompat

import (
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/rhuss/lmbroker/pkg/provider"
)

// buildParams converts a prompt, the session history and generation options
// into Chat Completions parameters. Options the SDK has no field for
// (top_k) travel as extra JSON body fields.
func buildParams(model string, history []openai.ChatCompletionMessageParamUnion, prompt string, opts provider.GenerationOptions) (openai.ChatCompletionNewParams, []option.RequestOption) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    model,
	}
	var reqOpts []option.RequestOption

	if opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	}
	if opts.MaximumResponseTokens != nil {
		params.MaxTokens = openai.Int(int64(*opts.MaximumResponseTokens))
	}

	if s := opts.Sampling; s != nil {
		switch s.Kind {
		case provider.SamplingGreedy:
			params.Temperature = openai.Float(0)
			reqOpts = append(reqOpts, option.WithJSONSet("top_k", 1))
		case provider.SamplingTopK:
			reqOpts = append(reqOpts, option.WithJSONSet("top_k", s.TopK))
		case provider.SamplingProbabilityThreshold:
			params.TopP = openai.Float(s.Threshold)
		}
	}

	return params, reqOpts
}
