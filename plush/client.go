package plush

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModelID = "google/gemini-2.5-flash-image-preview"
)

const maxErrorSnippetBytes = 4 << 10

// maxImageFetchBytes caps both source-image and generated-image downloads.
const maxImageFetchBytes int64 = 10 * 1024 * 1024

// TransformClient wraps the HTTP calls to an OpenAI-compatible multimodal
// chat completions API that returns generated images.
type TransformClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	modelID    string
}

// TransformOptions configure a TransformClient directly, mainly for tests.
type TransformOptions struct {
	BaseURL    string
	APIKey     string
	ModelID    string
	HTTPClient *http.Client
}

// NewTransformClient constructs a client from explicit options.
func NewTransformClient(opts TransformOptions) *TransformClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	modelID := strings.TrimSpace(opts.ModelID)
	if modelID == "" {
		modelID = defaultModelID
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}

	return &TransformClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		modelID:    modelID,
	}
}

// NewTransformClientFromEnv constructs a TransformClient using environment
// variables.
//
// Expected variables:
//   - IMAGEGEN_API_KEY: API key for the provider; when unset the client is
//     built unconfigured and the generation endpoint reports it per request
//   - IMAGEGEN_BASE_URL: optional override for the API base URL
//   - IMAGEGEN_MODEL_ID: optional override for the target model
func NewTransformClientFromEnv() (*TransformClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("IMAGEGEN_BASE_URL"))
	if baseURL != "" && !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("plush: invalid base URL %q", baseURL)
	}

	return NewTransformClient(TransformOptions{
		BaseURL: baseURL,
		APIKey:  os.Getenv("IMAGEGEN_API_KEY"),
		ModelID: os.Getenv("IMAGEGEN_MODEL_ID"),
	}), nil
}

// Configured reports whether an API key is present.
func (c *TransformClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

// Model returns the model identifier sent with each transformation request.
func (c *TransformClient) Model() string {
	return c.modelID
}

// GeneratedImage is the decoded result of a transformation call.
type GeneratedImage struct {
	Data        []byte
	ContentType string
}

type transformContentPart struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *transformImagePart `json:"image_url,omitempty"`
}

type transformImagePart struct {
	URL string `json:"url"`
}

type transformRequestMessage struct {
	Role    string                 `json:"role"`
	Content []transformContentPart `json:"content"`
}

type transformRequest struct {
	Model      string                    `json:"model"`
	Messages   []transformRequestMessage `json:"messages"`
	Modalities []string                  `json:"modalities"`
}

// Transform sends the source image (as an inline data URL) together with the
// prompt and returns the generated image bytes.
func (c *TransformClient) Transform(ctx context.Context, imageDataURL, prompt string) (GeneratedImage, error) {
	if c == nil {
		return GeneratedImage{}, errors.New("plush: transform client is nil")
	}
	if !c.Configured() {
		return GeneratedImage{}, errors.New("plush: IMAGEGEN_API_KEY is not configured")
	}
	if strings.TrimSpace(imageDataURL) == "" {
		return GeneratedImage{}, errors.New("plush: image data URL cannot be empty")
	}
	if strings.TrimSpace(prompt) == "" {
		return GeneratedImage{}, errors.New("plush: prompt cannot be empty")
	}

	payload := transformRequest{
		Model: c.modelID,
		Messages: []transformRequestMessage{{
			Role: "user",
			Content: []transformContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &transformImagePart{URL: imageDataURL}},
			},
		}},
		Modalities: []string{"image", "text"},
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return GeneratedImage{}, fmt.Errorf("plush: encode request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("plush: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("plush: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippetBytes))
		return GeneratedImage{}, fmt.Errorf("plush: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded transformResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return GeneratedImage{}, fmt.Errorf("plush: decode response: %w", err)
	}

	image, err := extractImage(&decoded)
	if err != nil {
		return GeneratedImage{}, err
	}

	return c.resolveImage(ctx, image)
}

// resolveImage turns an extracted reference into raw bytes, following plain
// HTTP URLs with one extra fetch.
func (c *TransformClient) resolveImage(ctx context.Context, image extractedImage) (GeneratedImage, error) {
	switch {
	case image.RawBase64 != "":
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(image.RawBase64))
		if err != nil {
			return GeneratedImage{}, fmt.Errorf("plush: decode image payload: %w", err)
		}
		contentType := strings.TrimSpace(image.MimeType)
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		return GeneratedImage{Data: data, ContentType: contentType}, nil

	case image.DataURL != "":
		return decodeDataURL(image.DataURL)

	case image.URL != "":
		return c.fetchImageURL(ctx, image.URL)

	default:
		return GeneratedImage{}, ErrNoImageReturned
	}
}

func (c *TransformClient) fetchImageURL(ctx context.Context, url string) (GeneratedImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("plush: create image fetch: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("plush: fetch generated image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippetBytes))
		return GeneratedImage{}, fmt.Errorf("plush: image fetch status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageFetchBytes+1))
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("plush: read generated image: %w", err)
	}
	if int64(len(data)) > maxImageFetchBytes {
		return GeneratedImage{}, fmt.Errorf("plush: generated image exceeds %d bytes", maxImageFetchBytes)
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return GeneratedImage{Data: data, ContentType: contentType}, nil
}

// decodeDataURL splits a data:<mime>;base64,<payload> URL into bytes.
func decodeDataURL(dataURL string) (GeneratedImage, error) {
	trimmed := strings.TrimSpace(dataURL)
	comma := strings.Index(trimmed, ",")
	if !strings.HasPrefix(trimmed, "data:") || comma < 0 {
		return GeneratedImage{}, fmt.Errorf("plush: malformed data URL")
	}

	meta := trimmed[len("data:"):comma]
	payload := trimmed[comma+1:]

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("plush: decode data URL: %w", err)
	}

	contentType := strings.TrimSuffix(meta, ";base64")
	if strings.TrimSpace(contentType) == "" {
		contentType = http.DetectContentType(data)
	}
	return GeneratedImage{Data: data, ContentType: contentType}, nil
}

// encodeDataURL builds the inline data URL sent to the provider.
func encodeDataURL(data []byte, contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
}
