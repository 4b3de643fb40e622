package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// SubmitResponse — результат постановки задачи.
type SubmitResponse struct {
	TaskID       string `json:"task_id"`
	Deduplicated bool   `json:"deduplicated"`
}

// TaskResponse — состояние задачи из API.
type TaskResponse struct {
	TaskID          string          `json:"task_id"`
	TaskType        string          `json:"task_type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key"`
	Disposition     string          `json:"disposition"`
	DeliveryAttempt int             `json:"delivery_attempt"`
	ErrorClass      string          `json:"error_class,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	EnqueuedAt      string          `json:"enqueued_at"`
	FinishedAt      string          `json:"finished_at,omitempty"`
	CreatedAt       string          `json:"created_at"`
}

// DeadLetterResponse — dead letter из API.
type DeadLetterResponse struct {
	TaskID      string          `json:"task_id"`
	TaskType    string          `json:"task_type"`
	ErrorClass  string          `json:"error_class,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Attempts    int             `json:"attempts"`
	Receipts    json.RawMessage `json:"receipts,omitempty"`
	EscalatedAt string          `json:"escalated_at"`
}

// HealthResponse — health-статус из API.
type HealthResponse struct {
	Overall    string                     `json:"overall"`
	Components map[string]ComponentStatus `json:"components"`
	CheckedAt  string                     `json:"checked_at"`
}

// ComponentStatus — статус одного компонента.
type ComponentStatus struct {
	Reachable bool   `json:"reachable"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// --- Request types ---

// EntryRequest — постановка index_entry.
type EntryRequest struct {
	EntryID   string `json:"entry_id"`
	UserID    string `json:"user_id"`
	Tradition string `json:"tradition"`
}

// BatchRequest — постановка index_batch.
type BatchRequest struct {
	Entries []EntryRequest `json:"entries"`
}

// TraditionRequest — постановка reindex/rebuild.
type TraditionRequest struct {
	Tradition string `json:"tradition"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Sutra API.
type Client struct {
	baseURL       string
	reindexSecret string
	httpClient    *http.Client
}

// NewClient создаёт клиент для API. Secret нужен только для
// привилегированных операций (reindex/rebuild).
func NewClient(baseURL, reindexSecret string) *Client {
	return &Client{
		baseURL:       baseURL,
		reindexSecret: reindexSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SubmitEntry ставит задачу индексации одной entry.
func (c *Client) SubmitEntry(req EntryRequest) (*SubmitResponse, error) {
	var res SubmitResponse
	err := c.post("/tasks/index-journal-entry", req, &res)
	return &res, err
}

// SubmitBatch ставит задачу индексации пакета entries.
func (c *Client) SubmitBatch(req BatchRequest) (*SubmitResponse, error) {
	var res SubmitResponse
	err := c.post("/tasks/index-journal-batch", req, &res)
	return &res, err
}

// Reindex ставит задачу переиндексации tradition.
func (c *Client) Reindex(tradition string) (*SubmitResponse, error) {
	var res SubmitResponse
	err := c.post("/tasks/reindex-tradition", TraditionRequest{Tradition: tradition}, &res)
	return &res, err
}

// Rebuild ставит задачу полной пересборки tradition.
func (c *Client) Rebuild(tradition string) (*SubmitResponse, error) {
	var res SubmitResponse
	err := c.post("/tasks/rebuild-tradition", TraditionRequest{Tradition: tradition}, &res)
	return &res, err
}

// GetTask возвращает состояние задачи.
func (c *Client) GetTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.get("/api/v1/tasks/"+id, &task)
	return &task, err
}

// ListDeadLetters возвращает последние dead letters.
func (c *Client) ListDeadLetters(limit int) ([]DeadLetterResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var letters []DeadLetterResponse
	err := c.list("/api/v1/dead-letters", params, &letters)
	return letters, err
}

// Health возвращает последний health-статус pipeline.
func (c *Client) Health() (*HealthResponse, error) {
	var health HealthResponse
	err := c.get("/health", &health)
	return &health, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.reindexSecret != "" {
		req.Header.Set("X-Reindex-Secret", c.reindexSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// checkError разбирает ответ с ошибкой API.
func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error.Message != "" {
		return fmt.Errorf("%s (%s)", er.Error.Message, er.Error.Code)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
