// Package client is a Go SDK for the Plushify HTTP API, together with the
// generation progress state machine frontends use while a request is in
// flight.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

var ErrInsufficientCredits = errors.New("client: insufficient credits")

// APIError carries the server's error body alongside the HTTP status.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("client: %s (status %d): %s", e.Message, e.StatusCode, e.Details)
	}
	return fmt.Sprintf("client: %s (status %d)", e.Message, e.StatusCode)
}

// API talks to a Plushify server. The zero value is not usable; construct
// with New.
type API struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

func New(baseURL string) *API {
	return &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// SetToken installs the bearer token used on authenticated calls.
func (a *API) SetToken(token string) {
	a.token = token
}

// SetHTTPClient overrides the underlying HTTP client.
func (a *API) SetHTTPClient(httpClient *http.Client) {
	if httpClient != nil {
		a.httpClient = httpClient
	}
}

type Credentials struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	CaptchaID     string `json:"captcha_id"`
	CaptchaAnswer string `json:"captcha_answer"`
}

// Login authenticates and stores the returned token on the client.
func (a *API) Login(ctx context.Context, creds Credentials) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := a.doJSON(ctx, http.MethodPost, "/auth/login", creds, &out); err != nil {
		return "", err
	}
	a.token = out.Token
	return out.Token, nil
}

type UploadResult struct {
	URL      string `json:"url"`
	Pathname string `json:"pathname"`
}

// UploadImage sends the image bytes as multipart form data and returns the
// stored blob's public URL.
func (a *API) UploadImage(ctx context.Context, filename string, image io.Reader) (*UploadResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("client: build upload form: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("client: copy upload bytes: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("client: finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/upload-image", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	a.authorize(req)

	var out UploadResult
	if err := a.send(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type GenerateParams struct {
	ImageURL string `json:"imageUrl"`
	Style    string `json:"style"`
	Quality  string `json:"quality,omitempty"`
}

type Generation struct {
	ID                string    `json:"id"`
	OriginalImageURL  string    `json:"originalImageUrl"`
	GeneratedImageURL string    `json:"generatedImageUrl"`
	Style             string    `json:"style"`
	IsFavorite        bool      `json:"isFavorite"`
	CreatedAt         time.Time `json:"createdAt"`
	CreditsRemaining  int       `json:"creditsRemaining"`
}

// Generate requests one plush transformation. A 402 from the server maps
// to ErrInsufficientCredits.
func (a *API) Generate(ctx context.Context, params GenerateParams) (*Generation, error) {
	var out Generation
	if err := a.doJSON(ctx, http.MethodPost, "/api/generate-plush", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Gallery lists the caller's generations, newest first.
func (a *API) Gallery(ctx context.Context) ([]Generation, error) {
	var out []Generation
	if err := a.doJSON(ctx, http.MethodGet, "/api/gallery", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteGeneration removes a record and its stored images.
func (a *API) DeleteGeneration(ctx context.Context, id string) error {
	return a.doJSON(ctx, http.MethodDelete, "/api/gallery/"+id, nil, nil)
}

// SetFavorite toggles the favorite flag on a record.
func (a *API) SetFavorite(ctx context.Context, id string, favorite bool) (*Generation, error) {
	payload := struct {
		IsFavorite bool `json:"isFavorite"`
	}{IsFavorite: favorite}
	var out Generation
	if err := a.doJSON(ctx, http.MethodPatch, "/api/gallery/"+id+"/favorite", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Credits returns the caller's current balance.
func (a *API) Credits(ctx context.Context) (int, error) {
	var out struct {
		Credits int `json:"credits"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/api/user/credits", nil, &out); err != nil {
		return 0, err
	}
	return out.Credits, nil
}

// CreatePlush runs the full upload-then-generate flow while driving the
// tracker through the same milestones the dashboard UI shows.
func (a *API) CreatePlush(ctx context.Context, tracker *ProgressTracker, filename string, image io.Reader, style, quality string) (*Generation, error) {
	if tracker == nil {
		tracker = NewProgressTracker()
	}
	if err := tracker.Start(); err != nil {
		return nil, err
	}

	tracker.SetProgress(10)
	uploaded, err := a.UploadImage(ctx, filename, image)
	if err != nil {
		tracker.Fail()
		return nil, err
	}
	tracker.SetProgress(30)

	tracker.Advance()
	tracker.SetProgress(40)
	generation, err := a.Generate(ctx, GenerateParams{
		ImageURL: uploaded.URL,
		Style:    style,
		Quality:  quality,
	})
	if err != nil {
		tracker.Fail()
		return nil, err
	}

	if err := tracker.Complete(); err != nil {
		return nil, err
	}
	return generation, nil
}

func (a *API) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	a.authorize(req)

	return a.send(req, out)
}

func (a *API) authorize(req *http.Request) {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
}

func (a *API) send(req *http.Request, out any) error {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusPaymentRequired {
			return ErrInsufficientCredits
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var parsed struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
			apiErr.Message = parsed.Error
			apiErr.Details = parsed.Details
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
