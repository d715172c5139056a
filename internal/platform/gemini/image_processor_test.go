package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/MRwang520a/pixelstudio-api/internal/config"
	"github.com/MRwang520a/pixelstudio-api/internal/domain"
	"github.com/MRwang520a/pixelstudio-api/internal/processing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestProcessor builds an ImageProcessor whose client talks to the given
// handler instead of the live API.
func newTestProcessor(t *testing.T, cfg config.ProcessorConfig, handler http.Handler) *ImageProcessor {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  srv.Client(),
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL},
	})
	require.NoError(t, err)

	return &ImageProcessor{
		logger: testLogger(),
		config: cfg,
		client: client,
		model:  "gemini-test",
	}
}

func defaultTestProcessorConfig() config.ProcessorConfig {
	return config.ProcessorConfig{
		GeminiAPIKey:      "test-key",
		ModelName:         "gemini-test",
		MaxRetries:        0,
		RetryDelaySeconds: 1,
	}
}

// candidateResponse renders a GenerateContentResponse whose single candidate
// carries the given text part.
func candidateResponse(t *testing.T, text, finishReason string) []byte {
	t.Helper()

	quoted, err := json.Marshal(text)
	require.NoError(t, err)

	body := fmt.Sprintf(
		`{"candidates":[{"content":{"parts":[{"text":%s}],"role":"model"},"finishReason":%q}]}`,
		quoted, finishReason)
	return []byte(body)
}

func respondWith(t *testing.T, body []byte) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
}

func TestProcessReturnsOutputRef(t *testing.T) {
	t.Parallel()

	payload := `{"output_url":"https://cdn.example.com/out/matting.png"}`
	p := newTestProcessor(t, defaultTestProcessorConfig(),
		respondWith(t, candidateResponse(t, payload, "STOP")))

	result, err := p.Process(context.Background(), processing.Request{
		TaskType: domain.TaskTypeMatting,
		InputRef: "s3://bucket/in.png",
	})

	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/out/matting.png", result.OutputRef)
	assert.Nil(t, result.Metadata)
}

func TestProcessTranslateCarriesTextMetadata(t *testing.T) {
	t.Parallel()

	payload := `{"output_url":"https://cdn.example.com/out/translated.png","original_text":"你好","translated_text":"hello"}`
	p := newTestProcessor(t, defaultTestProcessorConfig(),
		respondWith(t, candidateResponse(t, payload, "STOP")))

	result, err := p.Process(context.Background(), processing.Request{
		TaskType:   domain.TaskTypeTranslate,
		InputRef:   "s3://bucket/sign.png",
		Parameters: domain.Params{"targetLang": "en"},
	})

	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/out/translated.png", result.OutputRef)
	assert.Equal(t, "你好", result.Metadata["originalText"])
	assert.Equal(t, "hello", result.Metadata["translatedText"])
}

func TestProcessSafetyBlockedDoesNotRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"finishReason":"SAFETY"}]}`))
	})

	cfg := defaultTestProcessorConfig()
	cfg.MaxRetries = 2
	p := newTestProcessor(t, cfg, handler)

	_, err := p.Process(context.Background(), processing.Request{
		TaskType: domain.TaskTypeMatting,
		InputRef: "s3://bucket/in.png",
	})

	require.ErrorIs(t, err, processing.ErrContentBlocked)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProcessMalformedResponseDoesNotRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(candidateResponse(t, "not a json object", "STOP"))
	})

	cfg := defaultTestProcessorConfig()
	cfg.MaxRetries = 2
	p := newTestProcessor(t, cfg, handler)

	_, err := p.Process(context.Background(), processing.Request{
		TaskType: domain.TaskTypeMatting,
		InputRef: "s3://bucket/in.png",
	})

	require.ErrorIs(t, err, processing.ErrInvalidResponse)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProcessMissingOutputURL(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t, defaultTestProcessorConfig(),
		respondWith(t, candidateResponse(t, `{"original_text":"x"}`, "STOP")))

	_, err := p.Process(context.Background(), processing.Request{
		TaskType: domain.TaskTypeMatting,
		InputRef: "s3://bucket/in.png",
	})

	require.ErrorIs(t, err, processing.ErrInvalidResponse)
	assert.Contains(t, err.Error(), "missing output URL")
}

func TestProcessServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusInternalServerError)
	})

	p := newTestProcessor(t, defaultTestProcessorConfig(), handler)

	_, err := p.Process(context.Background(), processing.Request{
		TaskType: domain.TaskTypeMatting,
		InputRef: "s3://bucket/in.png",
	})

	require.ErrorIs(t, err, processing.ErrTransientFailure)
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	t.Run("background requires prompt", func(t *testing.T) {
		t.Parallel()
		_, err := buildPrompt(processing.Request{
			TaskType: domain.TaskTypeBackground,
			InputRef: "s3://bucket/in.png",
		})
		assert.ErrorIs(t, err, processing.ErrProcessingFailed)
	})

	t.Run("designer requires prompt", func(t *testing.T) {
		t.Parallel()
		_, err := buildPrompt(processing.Request{TaskType: domain.TaskTypeDesigner})
		assert.ErrorIs(t, err, processing.ErrProcessingFailed)
	})

	t.Run("unsupported type", func(t *testing.T) {
		t.Parallel()
		_, err := buildPrompt(processing.Request{TaskType: domain.TaskType("hologram")})
		assert.ErrorIs(t, err, processing.ErrUnsupportedTaskType)
	})

	t.Run("upscale defaults to factor 2", func(t *testing.T) {
		t.Parallel()
		prompt, err := buildPrompt(processing.Request{
			TaskType: domain.TaskTypeUpscale,
			InputRef: "s3://bucket/in.png",
		})
		require.NoError(t, err)
		assert.Contains(t, prompt, "factor of 2")
	})

	t.Run("translate defaults to english", func(t *testing.T) {
		t.Parallel()
		prompt, err := buildPrompt(processing.Request{
			TaskType: domain.TaskTypeTranslate,
			InputRef: "s3://bucket/in.png",
		})
		require.NoError(t, err)
		assert.Contains(t, prompt, `"en"`)
	})
}
