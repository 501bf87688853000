// Package textgen отвечает за генерацию текста уведомлений.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Composer превращает подсказку в текст письма. Реализация обязана
// иметь детерминированный фолбэк: недоступность генератора не должна
// приводить к потере уведомления.
type Composer interface {
	Compose(ctx context.Context, prompt string) (string, error)
}

// Fallback — детерминированный композер: возвращает подсказку как есть.
type Fallback struct{}

// NewFallback создаёт детерминированный композер.
func NewFallback() *Fallback {
	return &Fallback{}
}

// Compose возвращает подсказку без изменений.
func (f *Fallback) Compose(_ context.Context, prompt string) (string, error) {
	return prompt, nil
}

// Client инкапсулирует HTTP-взаимодействие с внешним сервисом генерации текста.
// При любой ошибке вызова возвращается подсказка без изменений.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type composeRequest struct {
	Prompt string `json:"prompt"`
}

type composeResponse struct {
	Text string `json:"text"`
}

// NewClient создаёт HTTP-клиент генерации текста по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Compose запрашивает у внешнего сервиса текст по подсказке.
// Ошибки вызова и пустые ответы деградируют до подсказки.
func (c *Client) Compose(ctx context.Context, prompt string) (string, error) {
	if c == nil || c.baseURL == "" {
		return prompt, nil
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(composeRequest{Prompt: prompt})
	if err != nil {
		return prompt, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/compose", bytes.NewReader(body))
	if err != nil {
		return prompt, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return prompt, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return prompt, nil
	}

	var result composeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return prompt, nil
	}
	if result.Text == "" {
		return prompt, nil
	}

	return result.Text, nil
}
