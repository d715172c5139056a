// Package gemini implements the processing.Processor interface using
// Google's Gemini API as the external image-transformation provider.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/MRwang520a/pixelstudio-api/internal/config"
	"github.com/MRwang520a/pixelstudio-api/internal/domain"
	"github.com/MRwang520a/pixelstudio-api/internal/processing"
	"google.golang.org/genai"
)

// responseSchema is the JSON structure the model is instructed to return.
type responseSchema struct {
	OutputURL      string `json:"output_url"`
	OriginalText   string `json:"original_text,omitempty"`
	TranslatedText string `json:"translated_text,omitempty"`
}

// ImageProcessor implements processing.Processor using the Gemini API.
// One instance serves all six task types; the prompt selects the
// transformation.
type ImageProcessor struct {
	logger *slog.Logger
	config config.ProcessorConfig
	client *genai.Client
	model  string
}

// NewImageProcessor creates a new instance of ImageProcessor with the provided dependencies.
//
// Parameters:
//   - ctx: Context for the operation, which can be used for cancellation
//   - logger: A structured logger for operation logging
//   - cfg: Processor configuration containing API key, model name, and retry settings
//
// Returns:
//   - A properly initialized ImageProcessor or an error if initialization fails
func NewImageProcessor(ctx context.Context, logger *slog.Logger, cfg config.ProcessorConfig) (*ImageProcessor, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", processing.ErrInvalidConfig)
	}

	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", processing.ErrInvalidConfig)
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			processing.ErrInvalidConfig, err)
	}

	return &ImageProcessor{
		logger: logger,
		config: cfg,
		client: client,
		model:  cfg.ModelName,
	}, nil
}

// Ensure ImageProcessor implements processing.Processor.
var _ processing.Processor = (*ImageProcessor)(nil)

// Process implements processing.Processor.Process.
func (p *ImageProcessor) Process(ctx context.Context, req processing.Request) (*processing.Result, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}

	response, err := p.callGeminiWithRetry(ctx, prompt)
	if err != nil {
		return nil, err
	}

	if response.OutputURL == "" {
		return nil, fmt.Errorf("%w: missing output URL", processing.ErrInvalidResponse)
	}

	result := &processing.Result{OutputRef: response.OutputURL}
	if req.TaskType == domain.TaskTypeTranslate {
		result.Metadata = domain.Params{
			"originalText":   response.OriginalText,
			"translatedText": response.TranslatedText,
		}
	}

	return result, nil
}

// buildPrompt renders the type-specific instruction for the model. Every
// prompt demands a single JSON object matching responseSchema.
func buildPrompt(req processing.Request) (string, error) {
	var b strings.Builder

	switch req.TaskType {
	case domain.TaskTypeMatting:
		fmt.Fprintf(&b, "Remove the background from the image at %s, isolating the main subject on a transparent background.", req.InputRef)

	case domain.TaskTypeRetouch:
		fmt.Fprintf(&b, "Professionally retouch the product photo at %s with enhanced lighting, colors, and details.", req.InputRef)
		for _, knob := range []string{"brightness", "contrast", "saturation"} {
			if v, ok := req.Parameters[knob]; ok {
				fmt.Fprintf(&b, " Adjust %s to %v.", knob, v)
			}
		}

	case domain.TaskTypeBackground:
		prompt, ok := req.Parameters.Prompt()
		if !ok {
			return "", fmt.Errorf("%w: background tasks require a prompt", processing.ErrProcessingFailed)
		}
		fmt.Fprintf(&b, "Compose a new background for the image at %s: %s. Professional photography, high quality, detailed background.", req.InputRef, prompt)

	case domain.TaskTypeDesigner:
		prompt, ok := req.Parameters.Prompt()
		if !ok {
			return "", fmt.Errorf("%w: designer tasks require a prompt", processing.ErrProcessingFailed)
		}
		fmt.Fprintf(&b, "Generate an image: %s", prompt)
		if style, ok := req.Parameters["style"].(string); ok && style != "" {
			fmt.Fprintf(&b, ", in %s style", style)
		}
		b.WriteString(", high quality, detailed.")

	case domain.TaskTypeUpscale:
		scale := 2
		if v, ok := req.Parameters["scale"].(float64); ok && v > 0 {
			scale = int(v)
		}
		fmt.Fprintf(&b, "Upscale the image at %s by a factor of %d, preserving detail.", req.InputRef, scale)

	case domain.TaskTypeTranslate:
		targetLang := "en"
		if v, ok := req.Parameters["targetLang"].(string); ok && v != "" {
			targetLang = v
		}
		fmt.Fprintf(&b, "Translate all text in the image at %s into %q, rendering the translated text back into the image. Include original_text and translated_text in the response.", req.InputRef, targetLang)

	default:
		return "", fmt.Errorf("%w: %s", processing.ErrUnsupportedTaskType, req.TaskType)
	}

	b.WriteString(" Respond with a single JSON object: {\"output_url\": ..., \"original_text\": ..., \"translated_text\": ...}.")
	return b.String(), nil
}

// callGeminiWithRetry makes a call to the Gemini API with exponential backoff retry logic.
//
// It attempts to call the API up to config.MaxRetries times, using exponential backoff
// with jitter between retries for transient errors. Permanent errors (like content being
// blocked by safety filters) are returned immediately without retrying.
func (p *ImageProcessor) callGeminiWithRetry(ctx context.Context, prompt string) (*responseSchema, error) {
	maxRetries := p.config.MaxRetries
	baseDelaySeconds := p.config.RetryDelaySeconds
	attempt := 0
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	if maxRetries < 0 {
		p.logger.WarnContext(ctx, "Invalid max retries value, using default", "max_retries", 3)
		maxRetries = 3
	}

	if baseDelaySeconds < 1 {
		p.logger.WarnContext(ctx, "Invalid retry delay value, using default", "base_delay_seconds", 2)
		baseDelaySeconds = 2
	}

	for attempt <= maxRetries {
		attemptNum := attempt + 1
		p.logger.InfoContext(ctx, "Making Gemini API call",
			"attempt", attemptNum,
			"max_attempts", maxRetries+1)

		generateConfig := &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		}

		var response *responseSchema
		var isTransientError bool

		resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), generateConfig)
		if err != nil {
			// Assume transient error by default
			isTransientError = true
			p.logger.ErrorContext(ctx, "Gemini API call error",
				"error", err,
				"attempt", attemptNum)
		} else if resp == nil {
			err = fmt.Errorf("%w: nil response", processing.ErrInvalidResponse)
		} else if len(resp.Candidates) == 0 {
			err = fmt.Errorf("%w: no content generated", processing.ErrInvalidResponse)
		} else if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
			err = fmt.Errorf("%w: content blocked by safety filters", processing.ErrContentBlocked)
		} else if resp.Candidates[0].Content == nil {
			err = fmt.Errorf("%w: empty content in response", processing.ErrInvalidResponse)
		} else {
			var text strings.Builder
			for _, part := range resp.Candidates[0].Content.Parts {
				if part != nil {
					text.WriteString(part.Text)
				}
			}

			var parsed responseSchema
			if err = json.Unmarshal([]byte(text.String()), &parsed); err != nil {
				err = fmt.Errorf("%w: failed to parse JSON response: %v", processing.ErrInvalidResponse, err)
			} else {
				response = &parsed
			}
		}

		if err == nil {
			p.logger.InfoContext(ctx, "Gemini API call successful",
				"attempt", attemptNum)
			return response, nil
		}

		p.logger.ErrorContext(ctx, "Gemini API call failed",
			"attempt", attemptNum,
			"error", err)

		if errors.Is(err, processing.ErrContentBlocked) || errors.Is(err, processing.ErrInvalidResponse) {
			return nil, err
		}

		if attempt >= maxRetries {
			p.logger.WarnContext(ctx, "Maximum retry attempts reached",
				"max_retries", maxRetries)
			return nil, fmt.Errorf("%w: exceeded maximum retry attempts (%d)",
				processing.ErrTransientFailure, maxRetries)
		}

		if !isTransientError {
			return nil, err
		}

		// delay = baseDelay * (2^attempt) * (0.5 + rand(0, 0.5))
		backoffSeconds := float64(baseDelaySeconds) * math.Pow(2, float64(attempt))
		jitterFactor := 0.5 + rng.Float64()*0.5
		delaySeconds := backoffSeconds * jitterFactor
		delay := time.Duration(delaySeconds * float64(time.Second))

		p.logger.InfoContext(ctx, "Retrying after delay",
			"attempt", attemptNum,
			"delay_seconds", delaySeconds)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			p.logger.WarnContext(ctx, "API call cancelled during retry delay",
				"attempt", attemptNum,
				"ctx_err", ctx.Err())
			return nil, fmt.Errorf("%w: %v", processing.ErrTransientFailure, ctx.Err())
		}

		attempt++
	}

	return nil, fmt.Errorf("%w: failed after %d attempts",
		processing.ErrTransientFailure, attempt)
}
