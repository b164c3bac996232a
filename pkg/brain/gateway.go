package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/pbc1017/hollon-ai-sub009/pkg/config"
)

// Gateway resolves provider names against the registry and runs invocations
// over the configured transport.
type Gateway struct {
	registry *config.BrainProviderRegistry
	client   *http.Client
	logger   *slog.Logger
}

// NewGateway creates a Gateway. The http.Client carries no global timeout;
// each invocation gets a per-request deadline from the provider config.
func NewGateway(registry *config.BrainProviderRegistry, logger *slog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		client:   &http.Client{},
		logger:   logger.With("component", "brain_gateway"),
	}
}

// Invoke sends the prompt to the named provider and returns the measured
// result. The provider's timeout bounds the whole invocation; on expiry the
// subprocess is force-killed (stdio) or the request aborted (http) and
// ErrTimeout is returned.
func (g *Gateway) Invoke(ctx context.Context, req Request) (*Result, error) {
	prov, err := g.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	timeout := prov.Timeout
	if timeout <= 0 {
		timeout = config.DefaultBrainTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var env *envelope
	switch prov.Transport {
	case config.TransportStdio:
		env, err = g.invokeStdio(ctx, prov, req.Prompt)
	case config.TransportHTTP:
		env, err = g.invokeHTTP(ctx, prov, req.Prompt)
	default:
		return nil, fmt.Errorf("provider %s: unknown transport %q", req.Provider, prov.Transport)
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			g.logger.Warn("brain invocation timed out",
				"provider", req.Provider, "timeout", timeout)
			return nil, fmt.Errorf("provider %s after %s: %w", req.Provider, timeout, ErrTimeout)
		}
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("provider %s: %s: %w", req.Provider, env.Error, ErrProvider)
	}

	dur := time.Duration(env.DurationMS) * time.Millisecond
	if env.DurationMS == 0 {
		dur = time.Since(start)
	}
	res := &Result{
		Output:        env.Output,
		InputTokens:   env.InputTokens,
		OutputTokens:  env.OutputTokens,
		BrainDuration: dur,
		CostSubCents: costSubCents(env.InputTokens, prov.InputRateSubCentsPer1K) +
			costSubCents(env.OutputTokens, prov.OutputRateSubCentsPer1K),
	}
	g.logger.Debug("brain invocation complete",
		"provider", req.Provider,
		"input_tokens", res.InputTokens,
		"output_tokens", res.OutputTokens,
		"cost_sub_cents", res.CostSubCents,
		"duration", res.BrainDuration)
	return res, nil
}

type stdioRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

func (g *Gateway) invokeStdio(ctx context.Context, prov *config.BrainProviderConfig, prompt string) (*envelope, error) {
	payload, err := json.Marshal(stdioRequest{Model: prov.Model, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal stdio request: %w", err)
	}

	cmd := exec.CommandContext(ctx, prov.Command, prov.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = os.Environ()
	// Leave no grace period: on deadline the process gets SIGKILL.
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s exited: %v (stderr: %s): %w",
			prov.Command, err, truncate(stderr.String(), 512), ErrProvider)
	}
	return parseEnvelope(stdout.Bytes())
}

type httpRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

func (g *Gateway) invokeHTTP(ctx context.Context, prov *config.BrainProviderConfig, prompt string) (*envelope, error) {
	payload, err := json.Marshal(httpRequest{Model: prov.Model, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal http request: %w", err)
	}
	body, err := g.post(ctx, prov, prov.URL, payload)
	if err != nil {
		return nil, err
	}
	return parseEnvelope(body)
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedReply struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the provider's embedding for the text. Only providers with an
// embed_url support this.
func (g *Gateway) Embed(ctx context.Context, provider, text string) ([]float32, error) {
	prov, err := g.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	if prov.EmbedURL == "" {
		return nil, fmt.Errorf("provider %s has no embed endpoint: %w", provider, ErrProvider)
	}
	timeout := prov.Timeout
	if timeout <= 0 {
		timeout = config.DefaultBrainTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(embedRequest{Model: prov.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	body, err := g.post(ctx, prov, prov.EmbedURL, payload)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("embed via %s: %w", provider, ErrTimeout)
		}
		return nil, err
	}
	var reply embedReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decode embed reply: %w", ErrParse)
	}
	return reply.Embedding, nil
}

func (g *Gateway) post(ctx context.Context, prov *config.BrainProviderConfig, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if prov.APIKeyEnv != "" {
		if key := os.Getenv(prov.APIKeyEnv); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint returned %d: %s: %w",
			resp.StatusCode, truncate(string(body), 512), ErrProvider)
	}
	return body, nil
}

func parseEnvelope(raw []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode reply envelope: %v: %w", err, ErrParse)
	}
	return &env, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
