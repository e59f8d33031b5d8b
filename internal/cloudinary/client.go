package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.cloudinary.com/v1_1"

// photoTransformation caps stored student photos at 800x800.
const photoTransformation = "c_limit,h_800,w_800"

const maxResponseBytes = 1 << 20

// Client stores enrollment photos in a Cloudinary folder, one image per
// student number.
type Client struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	BaseURL   string
	HTTP      *http.Client
	now       func() time.Time
}

func New(cloudName, apiKey, apiSecret, folder string) *Client {
	return &Client{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    folder,
		BaseURL:   defaultBaseURL,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

// Configured reports whether photo uploads can be signed.
func (c *Client) Configured() bool {
	return c != nil && c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// Photo is a stored student photo.
type Photo struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int    `json:"bytes"`
}

// UploadPhoto stores source, a data URI or remote URL, as the photo of
// studentNo. Re-enrolling a student replaces the previous photo.
func (c *Client) UploadPhoto(ctx context.Context, source, studentNo string) (*Photo, error) {
	params := map[string]string{
		"timestamp":      strconv.FormatInt(c.now().Unix(), 10),
		"api_key":        c.APIKey,
		"public_id":      studentNo,
		"overwrite":      "true",
		"transformation": photoTransformation,
	}
	if c.Folder != "" {
		params["folder"] = c.Folder
	}
	params["signature"] = c.sign(params)

	var form bytes.Buffer
	w := multipart.NewWriter(&form)
	for k, v := range params {
		if v != "" {
			_ = w.WriteField(k, v)
		}
	}
	_ = w.WriteField("file", source)
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("cloudinary: photo form for %s: %w", studentNo, err)
	}

	endpoint := fmt.Sprintf("%s/%s/image/upload", strings.TrimRight(c.BaseURL, "/"), c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &form)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: photo request for %s: %w", studentNo, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: send photo for %s: %w", studentNo, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("cloudinary: read photo reply for %s: %w", studentNo, err)
	}
	if resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, body)
	}

	var photo Photo
	if err := json.Unmarshal(body, &photo); err != nil {
		return nil, fmt.Errorf("cloudinary: photo reply for %s: %w", studentNo, err)
	}
	return &photo, nil
}

// APIError is a rejected photo upload.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloudinary: photo rejected (%d): %s", e.Status, e.Message)
}

// newAPIError pulls error.message out of the body, falling back to the raw
// text.
func newAPIError(status int, body []byte) *APIError {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error.Message != "" {
		msg = payload.Error.Message
	}
	return &APIError{Status: status, Message: msg}
}

// unsigned lists upload fields left out of the signature.
var unsigned = map[string]bool{"api_key": true, "file": true, "resource_type": true}

// sign hashes the sorted key=value pairs, joined by & and followed by the
// secret, with sha1.
func (c *Client) sign(params map[string]string) string {
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !unsigned[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + c.APISecret))
	return fmt.Sprintf("%x", sum)
}
