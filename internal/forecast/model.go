package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

// Model scores rows of [voltage, current, active_power] into predicted daily kWh.
// Implementations must return exactly one prediction per row.
type Model interface {
	Predict(ctx context.Context, rows [][]float64) ([]float64, error)
}

// SequenceModel predicts horizon days ahead from a per-day feature history
type SequenceModel interface {
	PredictHorizon(ctx context.Context, history []DailyFeatures, horizon int) ([]float64, error)
}

// ConstantModel always predicts Value. It satisfies both model interfaces.
type ConstantModel struct {
	Value float64
}

func (m ConstantModel) Predict(_ context.Context, rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i := range out {
		out[i] = m.Value
	}
	return out, nil
}

func (m ConstantModel) PredictHorizon(_ context.Context, _ []DailyFeatures, horizon int) ([]float64, error) {
	out := make([]float64, horizon)
	for i := range out {
		out[i] = m.Value
	}
	return out, nil
}

// LinearModel is a regression exported from offline training:
// prediction = intercept + sum(coefficients[i] * row[i]).
type LinearModel struct {
	Features     []string  `yaml:"features" json:"features"`
	Coefficients []float64 `yaml:"coefficients" json:"coefficients"`
	Intercept    float64   `yaml:"intercept" json:"intercept"`
}

func (m *LinearModel) Predict(_ context.Context, rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(m.Coefficients) {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", i, len(row), len(m.Coefficients))
		}
		v := m.Intercept
		for j, c := range m.Coefficients {
			v += c * row[j]
		}
		out[i] = v
	}
	return out, nil
}

// LoadLinearModel reads a linear model from a .json, .yaml or .yml file.
// Any failure is reported as ErrModelUnavailable.
func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrModelUnavailable, path, err)
	}

	var m LinearModel
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &m)
	default:
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", models.ErrModelUnavailable, path, err)
	}

	if len(m.Coefficients) == 0 {
		return nil, fmt.Errorf("%w: %s has no coefficients", models.ErrModelUnavailable, path)
	}
	if len(m.Features) != 0 && len(m.Features) != len(m.Coefficients) {
		return nil, fmt.Errorf("%w: %s lists %d features for %d coefficients",
			models.ErrModelUnavailable, path, len(m.Features), len(m.Coefficients))
	}
	return &m, nil
}

type predictRequest struct {
	Rows    [][]float64     `json:"rows,omitempty"`
	History []DailyFeatures `json:"history,omitempty"`
	Horizon int             `json:"horizon,omitempty"`
}

type predictResponse struct {
	Predictions []float64 `json:"predictions"`
}

// HTTPModel scores rows on a remote prediction service
type HTTPModel struct {
	URL    string
	Client *http.Client
}

// NewHTTPModel creates a remote model with its own timeout
func NewHTTPModel(url string, timeout time.Duration) *HTTPModel {
	return &HTTPModel{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (m *HTTPModel) Predict(ctx context.Context, rows [][]float64) ([]float64, error) {
	return post(ctx, m.Client, m.URL, predictRequest{Rows: rows})
}

// HTTPSequenceModel forecasts a horizon on a remote sequence model service
type HTTPSequenceModel struct {
	URL    string
	Client *http.Client
}

// NewHTTPSequenceModel creates a remote sequence model with its own timeout
func NewHTTPSequenceModel(url string, timeout time.Duration) *HTTPSequenceModel {
	return &HTTPSequenceModel{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (m *HTTPSequenceModel) PredictHorizon(ctx context.Context, history []DailyFeatures, horizon int) ([]float64, error) {
	return post(ctx, m.Client, m.URL, predictRequest{History: history, Horizon: horizon})
}

// post sends one prediction request. Transport failures and non-200 replies
// mean the model could not be reached and are reported as ErrModelUnavailable.
func post(ctx context.Context, client *http.Client, url string, body predictRequest) ([]float64, error) {
	if client == nil {
		client = http.DefaultClient
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s returned %d: %s",
			models.ErrModelUnavailable, url, resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Predictions, nil
}
