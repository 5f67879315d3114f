package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/internal/httpclient"
	"github.com/Meridian-Markets/engine/internal/rate"
	"github.com/Meridian-Markets/engine/pkg/model"
)

// Oracle scores a telemetry event. Implementations may call out over the
// network; callers bound them with a context deadline.
type Oracle interface {
	Score(ctx context.Context, event model.TelemetryEvent) (ScoreResult, error)
}

// ScoreResult is the raw oracle output before the gate applies its rules.
type ScoreResult struct {
	Score        float64 `json:"score"`
	ModelVersion string  `json:"modelVersion"`
}

// HTTPOracle scores events against an external fraud-scoring service.
type HTTPOracle struct {
	logger   *zap.Logger
	executor *httpclient.Executor
	baseURL  string
}

// NewHTTPOracle creates an oracle client for the given base URL.
func NewHTTPOracle(logger *zap.Logger, rateMgr *rate.Manager, baseURL string) *HTTPOracle {
	exec := httpclient.New(
		logger,
		rateMgr,
		&http.Client{}, // per-call deadline comes from ctx
		1,              // one retry; the gate's deadline caps total time
		"fraud_oracle",
		func(status int, body []byte) error {
			return fmt.Errorf("scoring oracle rejected request: %d: %s", status, string(body))
		},
	)
	return &HTTPOracle{
		logger:   logger,
		executor: exec,
		baseURL:  baseURL,
	}
}

// Score submits the event to the scoring service.
func (o *HTTPOracle) Score(ctx context.Context, event model.TelemetryEvent) (ScoreResult, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/score", bytes.NewReader(payload))
	if err != nil {
		return ScoreResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var res ScoreResult
	if err := o.executor.DoJSON(ctx, req, "fraud-oracle", &res); err != nil {
		return ScoreResult{}, err
	}
	if res.Score < 0 || res.Score > 1 {
		return ScoreResult{}, fmt.Errorf("oracle returned out-of-range score %f", res.Score)
	}
	return res, nil
}

// LocalOracle is a deterministic heuristic scorer used when no external
// oracle is configured (local/dev deployments). Scores derive from notional
// size and event context only, so tests are reproducible.
type LocalOracle struct {
	ModelVersion string
}

func (o *LocalOracle) Score(_ context.Context, event model.TelemetryEvent) (ScoreResult, error) {
	score := 0.05

	if event.Notional != nil {
		switch n := event.Notional.IntPart(); {
		case n >= 1_000_000:
			score = 0.92
		case n >= 250_000:
			score = 0.65
		case n >= 50_000:
			score = 0.35
		}
	}
	if event.Type == model.EventPayment && event.Amount != nil && event.Amount.IntPart() >= 10_000 {
		score += 0.2
	}
	if event.IP == "" && event.DeviceID == "" {
		// No network context at all is itself mildly suspicious.
		score += 0.05
	}
	if score > 1 {
		score = 1
	}

	version := o.ModelVersion
	if version == "" {
		version = "local-1.0"
	}
	return ScoreResult{Score: score, ModelVersion: version}, nil
}
