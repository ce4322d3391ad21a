package broker

import (
	"github.com/rhuss/lmbroker/pkg/api"
	"github.com/rhuss/lmbroker/pkg/provider"
)

// TranslateOptions maps external generation options onto engine options.
// Each field is independent; absent fields keep the engine default.
//
// Sampling precedence: top-K, then probability threshold, then greedy when
// temperature <= 0. Temperature is forwarded as given in every case.
func TranslateOptions(opts *api.GenerationOptions) provider.GenerationOptions {
	var out provider.GenerationOptions
	if opts == nil {
		return out
	}

	out.Temperature = opts.Temperature
	out.MaximumResponseTokens = opts.MaximumResponseTokens

	switch {
	case opts.SamplingTopK != nil:
		out.Sampling = &provider.SamplingMode{Kind: provider.SamplingTopK, TopK: *opts.SamplingTopK}
	case opts.SamplingProbabilityThreshold != nil:
		out.Sampling = &provider.SamplingMode{Kind: provider.SamplingProbabilityThreshold, Threshold: *opts.SamplingProbabilityThreshold}
	case opts.Temperature != nil && *opts.Temperature <= 0:
		out.Sampling = &provider.SamplingMode{Kind: provider.SamplingGreedy}
	}

	return out
}
