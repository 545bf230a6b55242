// Package provider calls the external diagnosis text service. The
// service wraps a large language model; this client only knows the JSON
// contract, the prompt composition, and how to fail gracefully.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/autologic-mx/obi2/engine/domain"
	"github.com/autologic-mx/obi2/pkg/fn"
	"github.com/autologic-mx/obi2/pkg/resilience"
)

const analyzeTimeout = 12 * time.Second

// Message is one conversation turn on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// VehicleInfo is the optional vehicle block of an analyze request.
type VehicleInfo struct {
	Year   int    `json:"year,omitempty"`
	Make   string `json:"make,omitempty"`
	Model  string `json:"model,omitempty"`
	Engine string `json:"engine,omitempty"`
}

// AnalyzeRequest is the payload sent to POST /diagnostics/analyze. The
// service tolerates absent optional fields; chatHistory is always sent.
type AnalyzeRequest struct {
	VehicleInfo    *VehicleInfo `json:"vehicleInfo,omitempty"`
	OBDCodes       []string     `json:"obdCodes,omitempty"`
	Symptoms       []string     `json:"symptoms,omitempty"`
	AdditionalInfo string       `json:"additionalInfo,omitempty"`
	ChatHistory    []Message    `json:"chatHistory"`
}

// AnalyzeResponse is the provider's answer. Severity carries whatever
// explicit label the model produced, empty when it produced none. The
// echoed chatHistory is ignored here; the session owns its history.
type AnalyzeResponse struct {
	ChatHistory []Message `json:"chatHistory,omitempty"`
	Diagnosis   string    `json:"diagnosis"`
	Severity    string    `json:"severity,omitempty"`
}

// Intake is the structured information available when a diagnosis
// conversation starts.
type Intake struct {
	Vehicle        domain.Vehicle
	OBDCodes       []string
	Symptoms       []string
	AdditionalInfo string
}

// Client talks to the diagnosis service with a circuit breaker and
// bounded retries in front of it.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *resilience.Breaker
	retry   fn.RetryOpts
	log     *slog.Logger
}

// NewClient creates a provider client for the given base URL.
func NewClient(baseURL string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: analyzeTimeout},
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		retry: fn.RetryOpts{
			MaxAttempts: 2,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     2 * time.Second,
			Jitter:      true,
		},
		log: log,
	}
}

// Analyze requests diagnostic text. The full conversation and the
// structured intake travel on every call so the service always sees the
// session as the user built it. An empty history is seeded with the
// initial prompt composed from the intake data.
func (c *Client) Analyze(ctx context.Context, intake Intake, history []domain.ChatMessage) (AnalyzeResponse, error) {
	chat := make([]Message, 0, len(history))
	for _, m := range history {
		chat = append(chat, Message{Role: string(m.Role), Content: m.Content})
	}
	if len(chat) == 0 {
		chat = append(chat, Message{
			Role:    string(domain.RoleUser),
			Content: BuildInitialPrompt(intake.Vehicle, intake.OBDCodes, intake.Symptoms, intake.AdditionalInfo),
		})
	}

	req := AnalyzeRequest{
		VehicleInfo:    vehicleInfo(intake.Vehicle),
		OBDCodes:       intake.OBDCodes,
		Symptoms:       intake.Symptoms,
		AdditionalInfo: intake.AdditionalInfo,
		ChatHistory:    chat,
	}

	result := resilience.CallResult(c.breaker, ctx, func(ctx context.Context) fn.Result[AnalyzeResponse] {
		return fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[AnalyzeResponse] {
			return fn.FromPair(c.post(ctx, req))
		})
	})
	resp, err := result.Unwrap()
	if err != nil {
		c.log.Error("diagnosis request failed", "error", err)
		return AnalyzeResponse{}, err
	}
	return resp, nil
}

func vehicleInfo(v domain.Vehicle) *VehicleInfo {
	if v == (domain.Vehicle{}) {
		return nil
	}
	return &VehicleInfo{Year: v.Year, Make: v.Make, Model: v.Model, Engine: v.Engine}
}

func (c *Client) post(ctx context.Context, req AnalyzeRequest) (AnalyzeResponse, error) {
	var out AnalyzeResponse

	body, err := json.Marshal(req)
	if err != nil {
		return out, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/diagnostics/analyze", bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("diagnosis service returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode diagnosis response: %w", err)
	}
	return out, nil
}
