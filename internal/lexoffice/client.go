// Package lexoffice is a small client for the three lexoffice endpoints the
// office agent uses: contacts, the invoice voucher list and file upload.
package lexoffice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.lexoffice.io/v1"

	apiKeyName      = "LEXOFFICE_API_KEY"
	maxErrorBody    = 64 * 1024
	defaultTimeout  = 60 * time.Second
	defaultMIMEType = "application/octet-stream"
)

// Record is one entry of a lexoffice list response, passed through untouched.
type Record = map[string]any

// Client talks to the lexoffice REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a client. An empty API key is accepted here and reported
// as a *ConfigurationError by every call.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

// ListContacts returns all contacts in the order the API returns them.
func (c *Client) ListContacts(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/contacts", nil)
}

// ListInvoices returns all invoice vouchers regardless of status.
func (c *Client) ListInvoices(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/voucherlist", url.Values{
		"voucherType":   {"invoice"},
		"voucherStatus": {"any"},
	})
}

func (c *Client) list(ctx context.Context, path string, query url.Values) ([]Record, error) {
	if c.apiKey == "" {
		return nil, &ConfigurationError{Key: apiKeyName}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	c.logger.Info("API call", "method", http.MethodGet, "path", path, "params", query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &TransportError{Op: "GET " + path, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RemoteError{Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var page struct {
		Content []Record `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &TransportError{Op: "decode " + path, Err: err}
	}
	if page.Content == nil {
		page.Content = []Record{}
	}

	c.logger.Info("API response", "method", http.MethodGet, "path", path, "status", resp.StatusCode, "count", len(page.Content))
	return page.Content, nil
}

// UploadDocument uploads the file at filePath as a voucher document. It never
// returns an error: every outcome is a sentence the agent can quote back to
// the user. On success the result contains "Document ID: <id>".
func (c *Client) UploadDocument(ctx context.Context, filePath string) string {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Sprintf("Error: File not found at '%s'.", filePath)
	}
	if !info.Mode().IsRegular() {
		return fmt.Sprintf("Error: '%s' is not a file.", filePath)
	}

	name := filepath.Base(filePath)
	mimeType := MIMEType(name)
	c.logger.Info("API call", "method", http.MethodPost, "path", "/files", "filename", name, "mime_type", mimeType)

	id, err := c.upload(ctx, filePath, name, mimeType)
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) {
			c.logger.Error("upload failed", "filename", name, "status", re.StatusCode, "response", re.Body)
			return fmt.Sprintf("Upload failed (HTTP %d): %s", re.StatusCode, re.Body)
		}
		c.logger.Error("upload failed", "filename", name, "err", err)
		return fmt.Sprintf("Upload failed: %v", err)
	}

	c.logger.Info("upload success", "filename", name, "document_id", id)
	return "Document uploaded successfully. Document ID: " + id
}

func (c *Client) upload(ctx context.Context, filePath, name, mimeType string) (string, error) {
	if c.apiKey == "" {
		return "", &ConfigurationError{Key: apiKeyName}
	}

	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	if err := mw.WriteField("type", "voucher"); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &TransportError{Op: "POST /files", Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RemoteError{Method: http.MethodPost, Path: "/files", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", &TransportError{Op: "decode /files", Err: err}
	}
	if created.ID == "" {
		return "unknown", nil
	}
	return created.ID, nil
}

// MIMEType guesses the content type from the filename extension.
func MIMEType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return defaultMIMEType
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
