// Package ocr предоставляет клиент внешнего сервиса распознавания текста чеков.
package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом распознавания.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type extractResponse struct {
	Text string `json:"text"`
}

// NewClient создаёт HTTP-клиент сервиса распознавания по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ExtractText запрашивает распознанный текст для файла чека fileRef.
// Пустой текст (204) не является ошибкой: решение о дальнейшей судьбе
// чека принимает вызывающий слой.
func (c *Client) ExtractText(ctx context.Context, fileRef string) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("ocr client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	reqURL := fmt.Sprintf("%s/api/extract?file=%s", base, url.QueryEscape(fileRef))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return "", nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("service busy, retry after %s", resp.Header.Get("Retry-After"))
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return strings.TrimSpace(result.Text), nil
}
