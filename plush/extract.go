package plush

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoImageReturned is returned when the provider response matched none of
// the known image shapes.
var ErrNoImageReturned = errors.New("plush: provider response contains no image")

// extractedImage is the normalized output of a shape extractor. Exactly one
// of DataURL, URL, or RawBase64 is set.
type extractedImage struct {
	DataURL   string
	URL       string
	RawBase64 string
	MimeType  string
}

// inlinePayload matches the Gemini-style inline data blobs, tolerating both
// snake_case and camelCase mime keys.
type inlinePayload struct {
	Data          string `json:"data"`
	MimeType      string `json:"mime_type"`
	MimeTypeCamel string `json:"mimeType"`
}

func (p *inlinePayload) mime() string {
	if p == nil {
		return ""
	}
	if strings.TrimSpace(p.MimeType) != "" {
		return p.MimeType
	}
	return p.MimeTypeCamel
}

// contentPart is one entry of an array-valued message content. Providers
// disagree on field names, so every known spelling is present.
type contentPart struct {
	Type            string          `json:"type"`
	Text            string          `json:"text"`
	ImageURL        json.RawMessage `json:"image_url"`
	InlineData      *inlinePayload  `json:"inline_data"`
	InlineDataCamel *inlinePayload  `json:"inlineData"`
	Data            string          `json:"data"`
	MimeType        string          `json:"mime_type"`
}

// filePart is one entry of a message-level files array.
type filePart struct {
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
	URL      string `json:"url"`
}

// imageEntry is one entry of an images array; image_url may be a bare string
// or an {url} object.
type imageEntry struct {
	Type     string          `json:"type"`
	ImageURL json.RawMessage `json:"image_url"`
}

// transformMessage is the assistant message of a transform response. Content
// is either a string or an array of contentPart.
type transformMessage struct {
	Content json.RawMessage `json:"content"`
	Files   []filePart      `json:"files"`
	Images  []imageEntry    `json:"images"`
}

// transformResponse captures the subset of the provider reply we consume,
// including a response-level images array some gateways emit.
type transformResponse struct {
	Choices []struct {
		Message transformMessage `json:"message"`
	} `json:"choices"`
	Images []imageEntry `json:"images"`
}

var dataURLPattern = regexp.MustCompile(`data:image/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/=]+`)

// shapeExtractor is one row of the extraction priority table.
type shapeExtractor struct {
	name    string
	extract func(msg *transformMessage, top *transformResponse) (extractedImage, bool)
}

// shapeExtractors is tried in order; the first successful extraction wins.
// The ordering is part of the contract: structured image_url parts beat
// inline payloads, which beat pattern matches on free text, which beat the
// files and images fallbacks.
var shapeExtractors = []shapeExtractor{
	{"content.image_url", extractContentImageURL},
	{"content.inline_data", extractContentInlineData},
	{"content.data", extractContentRawData},
	{"content.inlineData", extractContentInlineDataCamel},
	{"content.text-embedded", extractEmbeddedDataURL},
	{"message.files", extractFiles},
	{"images", extractImagesArray},
}

// extractImage walks the priority table over the first choice's message.
func extractImage(resp *transformResponse) (extractedImage, error) {
	if resp == nil || len(resp.Choices) == 0 {
		if resp != nil {
			if image, ok := extractImagesArray(&transformMessage{}, resp); ok {
				return image, nil
			}
		}
		return extractedImage{}, ErrNoImageReturned
	}

	msg := &resp.Choices[0].Message
	for _, extractor := range shapeExtractors {
		if image, ok := extractor.extract(msg, resp); ok {
			return image, nil
		}
	}
	return extractedImage{}, ErrNoImageReturned
}

func contentParts(msg *transformMessage) []contentPart {
	if msg == nil || len(msg.Content) == 0 {
		return nil
	}
	var parts []contentPart
	if err := json.Unmarshal(msg.Content, &parts); err != nil {
		return nil
	}
	return parts
}

func contentString(msg *transformMessage) string {
	if msg == nil || len(msg.Content) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(msg.Content, &text); err != nil {
		return ""
	}
	return text
}

// imageURLValue unwraps an image_url field that may be a bare string or an
// object carrying a url key.
func imageURLValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var direct string
	if err := json.Unmarshal(raw, &direct); err == nil {
		return strings.TrimSpace(direct)
	}
	var wrapped struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return strings.TrimSpace(wrapped.URL)
	}
	return ""
}

func refFromURL(url string) (extractedImage, bool) {
	url = strings.TrimSpace(url)
	if url == "" {
		return extractedImage{}, false
	}
	if strings.HasPrefix(url, "data:") {
		return extractedImage{DataURL: url}, true
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return extractedImage{URL: url}, true
	}
	return extractedImage{}, false
}

func extractContentImageURL(msg *transformMessage, _ *transformResponse) (extractedImage, bool) {
	for _, part := range contentParts(msg) {
		if image, ok := refFromURL(imageURLValue(part.ImageURL)); ok {
			return image, true
		}
	}
	return extractedImage{}, false
}

func extractContentInlineData(msg *transformMessage, _ *transformResponse) (extractedImage, bool) {
	for _, part := range contentParts(msg) {
		if part.InlineData != nil && strings.TrimSpace(part.InlineData.Data) != "" {
			return extractedImage{RawBase64: part.InlineData.Data, MimeType: part.InlineData.mime()}, true
		}
	}
	return extractedImage{}, false
}

func extractContentRawData(msg *transformMessage, _ *transformResponse) (extractedImage, bool) {
	for _, part := range contentParts(msg) {
		if strings.TrimSpace(part.Data) != "" {
			return extractedImage{RawBase64: part.Data, MimeType: part.MimeType}, true
		}
	}
	return extractedImage{}, false
}

func extractContentInlineDataCamel(msg *transformMessage, _ *transformResponse) (extractedImage, bool) {
	for _, part := range contentParts(msg) {
		if part.InlineDataCamel != nil && strings.TrimSpace(part.InlineDataCamel.Data) != "" {
			return extractedImage{RawBase64: part.InlineDataCamel.Data, MimeType: part.InlineDataCamel.mime()}, true
		}
	}
	return extractedImage{}, false
}

func extractEmbeddedDataURL(msg *transformMessage, _ *transformResponse) (extractedImage, bool) {
	text := contentString(msg)
	if text == "" {
		for _, part := range contentParts(msg) {
			if match := dataURLPattern.FindString(part.Text); match != "" {
				return extractedImage{DataURL: match}, true
			}
		}
		return extractedImage{}, false
	}
	if match := dataURLPattern.FindString(text); match != "" {
		return extractedImage{DataURL: match}, true
	}
	return extractedImage{}, false
}

func extractFiles(msg *transformMessage, _ *transformResponse) (extractedImage, bool) {
	if msg == nil {
		return extractedImage{}, false
	}
	for _, file := range msg.Files {
		mime := strings.TrimSpace(file.MimeType)
		if mime == "" {
			mime = strings.TrimSpace(file.Type)
		}
		if !strings.HasPrefix(strings.ToLower(mime), "image/") {
			continue
		}
		if strings.TrimSpace(file.Data) != "" {
			return extractedImage{RawBase64: file.Data, MimeType: mime}, true
		}
		if image, ok := refFromURL(file.URL); ok {
			return image, true
		}
	}
	return extractedImage{}, false
}

func extractImagesArray(msg *transformMessage, top *transformResponse) (extractedImage, bool) {
	if msg != nil {
		for _, entry := range msg.Images {
			if image, ok := refFromURL(imageURLValue(entry.ImageURL)); ok {
				return image, true
			}
		}
	}
	if top != nil {
		for _, entry := range top.Images {
			if image, ok := refFromURL(imageURLValue(entry.ImageURL)); ok {
				return image, true
			}
		}
	}
	return extractedImage{}, false
}
