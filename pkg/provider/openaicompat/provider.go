package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/rhuss/lmbroker/pkg/debug"
	"github.com/rhuss/lmbroker/pkg/provider"
)

// Provider implements provider.Provider for OpenAI-compatible Chat
// Completions backends.
type Provider struct {
	cfg        Config
	client     openai.Client
	httpClient *http.Client
}

// Ensure Provider implements provider.Provider at compile time.
var _ provider.Provider = (*Provider)(nil)

// New creates a new Provider with the given configuration.
// Returns an error if the configuration is invalid.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openaicompat: BaseURL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openaicompat: Model is required")
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.TaggingModel == "" {
		cfg.TaggingModel = cfg.Model
	}

	// No client-wide timeout: streams can outlive any fixed deadline.
	httpClient := &http.Client{}

	opts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL + "/v1/"),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	return &Provider{
		cfg:        cfg,
		client:     openai.NewClient(opts...),
		httpClient: httpClient,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "openai-compatible"
}

// Availability checks that the backend is reachable and serves the
// configured model.
func (p *Provider) Availability(ctx context.Context) (provider.Availability, error) {
	page, err := p.client.Models.List(ctx, option.WithRequestTimeout(p.cfg.Timeout))
	if err != nil {
		if ctx.Err() != nil {
			return provider.Availability{}, ctx.Err()
		}
		debug.Log(debug.Providers, "availability check failed", "error", err.Error())
		return provider.Availability{Reason: availabilityReason(err)}, nil
	}

	for _, m := range page.Data {
		if m.ID == p.cfg.Model {
			return provider.Availability{Available: true}, nil
		}
	}
	return provider.Availability{Reason: provider.ReasonModelNotEnabled}, nil
}

// CreateSession returns a session seeded with instructions. No backend call
// is made until the first prompt or prewarm.
func (p *Provider) CreateSession(_ context.Context, instructions string, cfg provider.ModelConfig) (provider.Session, error) {
	model := p.cfg.Model
	if cfg.UseCase == provider.UseCaseContentTagging {
		model = p.cfg.TaggingModel
	}
	return newSession(p, model, instructions, cfg), nil
}

// Close releases provider resources.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func availabilityReason(err error) provider.UnavailableReason {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		// Server not up yet, most likely still loading the model.
		return provider.ReasonModelNotReady
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return provider.ReasonDeviceNotEligible
	case http.StatusNotFound:
		return provider.ReasonModelNotEnabled
	case http.StatusServiceUnavailable:
		return provider.ReasonModelNotReady
	default:
		return provider.ReasonUnknown
	}
}
