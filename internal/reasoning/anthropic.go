package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joshsymonds/inboxflow/internal/mailbox"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 512
	apiURL           = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"

	// bodyLimit keeps prompts bounded; rule decisions rarely need more.
	bodyLimit = 4000
)

// Anthropic implements Provider against the Anthropic messages API with a
// plain HTTP client.
type Anthropic struct {
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropic builds a provider. An empty model selects the default; a zero
// timeout defaults to 30s. The timeout is the hard cap per call — when it
// fires, condition evaluation reports the error and the caller fails closed.
func NewAnthropic(apiKey, model string, timeout time.Duration) *Anthropic {
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Anthropic{
		apiKey:    apiKey,
		model:     model,
		maxTokens: defaultMaxTokens,
		client:    &http.Client{Timeout: timeout},
	}
}

// EvaluateCondition asks for a strict yes/no and refuses to guess: anything
// other than a clear answer is returned as an error so the rule stays
// unmatched.
func (a *Anthropic) EvaluateCondition(ctx context.Context, instruction string, email mailbox.Email) (Verdict, error) {
	prompt := fmt.Sprintf(
		"You are an email triage assistant. A user rule matches emails described as: %q\n\n"+
			"Does the rule apply to this email? Answer with exactly YES or NO on the first line, "+
			"then one short sentence of justification.\n\n%s",
		instruction, emailContext(email),
	)
	text, err := a.complete(ctx, prompt)
	if err != nil {
		return Verdict{}, err
	}
	first, rest, _ := strings.Cut(strings.TrimSpace(text), "\n")
	switch strings.ToUpper(strings.TrimSpace(strings.Trim(first, ".!"))) {
	case "YES":
		return Verdict{Match: true, Rationale: strings.TrimSpace(rest)}, nil
	case "NO":
		return Verdict{Match: false, Rationale: strings.TrimSpace(rest)}, nil
	default:
		return Verdict{}, fmt.Errorf("unparseable verdict %q", first)
	}
}

// CompleteField generates the value for a directive field.
func (a *Anthropic) CompleteField(ctx context.Context, instruction string, email mailbox.Email) (string, error) {
	prompt := fmt.Sprintf(
		"You are filling in one field of an email automation. Instruction: %q\n\n"+
			"Produce only the field value, with no preamble or quotes.\n\n%s",
		instruction, emailContext(email),
	)
	text, err := a.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func emailContext(email mailbox.Email) string {
	body := email.PlainBody()
	if len(body) > bodyLimit {
		body = body[:bodyLimit] + "…"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", email.From)
	if len(email.To) > 0 {
		tos := make([]string, 0, len(email.To))
		for _, t := range email.To {
			tos = append(tos, t.String())
		}
		fmt.Fprintf(&b, "To: %s\n", strings.Join(tos, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n\n%s", email.Subject, body)
	return b.String()
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Anthropic) complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(apiRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages:  []apiMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("model error %s: %s", parsed.Error.Type, parsed.Error.Message)
	}
	var parts []string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("model returned no text content")
	}
	return strings.Join(parts, ""), nil
}

var _ Provider = (*Anthropic)(nil)
