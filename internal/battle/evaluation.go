package battle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"orator-go/internal/config"
	"orator-go/internal/models"
)

// Winner labels used on the evaluation wire: the trigger never sees UIDs,
// only anonymized sides. The coordinator maps them back.
const (
	WinnerSideA = "A" // challenger
	WinnerSideB = "B" // opponent
)

// EvaluationRequest carries both sides' stored transcripts and the shared
// scenario. Evaluation is a pure function of this request, so a failed
// attempt can be re-run without touching battle state.
type EvaluationRequest struct {
	Context     models.InterviewContext
	TranscriptA []models.TranscriptMessage
	TranscriptB []models.TranscriptMessage
}

// EvaluationResult is the verdict: which side won and why. Winner may be
// empty when the trigger declares a tie.
type EvaluationResult struct {
	Winner    string `json:"winner"`
	Rationale string `json:"rationale"`
}

// EvaluationTrigger scores a completed battle.
type EvaluationTrigger interface {
	Evaluate(ctx context.Context, req EvaluationRequest) (EvaluationResult, error)
}

// openAITrigger calls an OpenAI-compatible chat completions endpoint.
type openAITrigger struct {
	cfg    config.EvaluationConfig
	client *http.Client
}

// NewOpenAITrigger creates an EvaluationTrigger backed by the configured
// chat completions API.
func NewOpenAITrigger(cfg config.EvaluationConfig) EvaluationTrigger {
	return &openAITrigger{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const evaluationSystemPrompt = `You are judging a two-person interview practice battle. ` +
	`Both candidates answered the same interview scenario. Compare the two transcripts on ` +
	`clarity, structure, relevance to the scenario and persuasiveness, then pick a winner. ` +
	`Respond with a JSON object of the form {"winner": "A" | "B", "rationale": "..."} and ` +
	`nothing else. Use an empty winner string only if the transcripts are truly indistinguishable.`

// Evaluate builds the judging prompt from both transcripts and parses the
// model's verdict.
func (t *openAITrigger) Evaluate(ctx context.Context, req EvaluationRequest) (EvaluationResult, error) {
	payload := chatCompletionRequest{
		Model: t.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: evaluationSystemPrompt},
			{Role: "user", Content: buildEvaluationPrompt(req)},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("marshal evaluation request: %w", err)
	}

	url := strings.TrimSuffix(t.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("build evaluation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("evaluation call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("read evaluation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return EvaluationResult{}, fmt.Errorf("evaluation call returned status %d: %s", resp.StatusCode, respBody)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return EvaluationResult{}, fmt.Errorf("unmarshal evaluation response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return EvaluationResult{}, fmt.Errorf("evaluation response contained no choices")
	}

	result, err := parseVerdict(completion.Choices[0].Message.Content)
	if err != nil {
		return EvaluationResult{}, err
	}
	return result, nil
}

func buildEvaluationPrompt(req EvaluationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scenario: %s interview for the position of %s at %s (%s level).\n",
		req.Context.InterviewType, req.Context.TargetPosition, req.Context.CompanyName, req.Context.ExperienceLevel)
	if req.Context.JobDescription != "" {
		fmt.Fprintf(&b, "Job description: %s\n", req.Context.JobDescription)
	}
	if req.Context.FocusArea != "" {
		fmt.Fprintf(&b, "Focus area: %s\n", req.Context.FocusArea)
	}
	b.WriteString("\nCandidate A transcript:\n")
	writeTranscript(&b, req.TranscriptA)
	b.WriteString("\nCandidate B transcript:\n")
	writeTranscript(&b, req.TranscriptB)
	return b.String()
}

func writeTranscript(b *strings.Builder, transcript []models.TranscriptMessage) {
	if len(transcript) == 0 {
		b.WriteString("(no answers submitted)\n")
		return
	}
	for _, msg := range transcript {
		fmt.Fprintf(b, "[%s] %s\n", msg.Role, msg.Content)
	}
}

// parseVerdict extracts the JSON verdict, tolerating markdown code fences
// some models wrap around it.
func parseVerdict(content string) (EvaluationResult, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var result EvaluationResult
	if err := json.Unmarshal([]byte(trimmed), &result); err != nil {
		return EvaluationResult{}, fmt.Errorf("unmarshal verdict %q: %w", content, err)
	}
	switch result.Winner {
	case WinnerSideA, WinnerSideB, "":
	default:
		return EvaluationResult{}, fmt.Errorf("verdict named unknown side %q", result.Winner)
	}
	return result, nil
}
