package api

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Meridian-Markets/engine/internal/fraud"
	"github.com/Meridian-Markets/engine/pkg/model"
)

// OrderRequest is the payload to submit or amend an order.
type OrderRequest struct {
	Symbol     string            `json:"symbol" example:"AAPL"`
	Side       string            `json:"side" example:"BUY"`
	Quantity   decimal.Decimal   `json:"quantity" example:"100"`
	Price      *decimal.Decimal  `json:"price,omitempty" example:"150.00"`
	OrderType  string            `json:"orderType,omitempty" example:"LIMIT"`
	StopLoss   *decimal.Decimal  `json:"stopLoss,omitempty"`
	TakeProfit *decimal.Decimal  `json:"takeProfit,omitempty"`
	Confidence float64           `json:"confidence" example:"0.85"`
	Model      string            `json:"model,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ToSignal converts the request to a canonical trade signal. Full semantic
// validation happens downstream; this only rejects unparseable enums.
func (r OrderRequest) ToSignal() (model.TradeSignal, error) {
	side, err := model.SideFromString(r.Side)
	if err != nil {
		return model.TradeSignal{}, err
	}
	orderType, err := model.OrderTypeFromString(r.OrderType)
	if err != nil {
		return model.TradeSignal{}, err
	}
	return model.TradeSignal{
		Symbol:     r.Symbol,
		Side:       side,
		Quantity:   r.Quantity,
		Price:      r.Price,
		OrderType:  orderType,
		StopLoss:   r.StopLoss,
		TakeProfit: r.TakeProfit,
		Confidence: r.Confidence,
		Model:      r.Model,
		Metadata:   r.Metadata,
	}, nil
}

// RuleRequest is one fraud rule in an UpdateRulesRequest.
type RuleRequest struct {
	Name     string  `json:"name"`
	MinScore float64 `json:"minScore"`
	Action   string  `json:"action"`
}

// UpdateRulesRequest replaces the full fraud rule set.
type UpdateRulesRequest struct {
	Rules []RuleRequest `json:"rules"`
}

// ToRules converts the request into the gate's rule type.
func (r UpdateRulesRequest) ToRules() ([]fraud.Rule, error) {
	if len(r.Rules) == 0 {
		return nil, fmt.Errorf("rules must not be empty")
	}
	rules := make([]fraud.Rule, 0, len(r.Rules))
	for _, rr := range r.Rules {
		rules = append(rules, fraud.Rule{
			Name:     rr.Name,
			MinScore: rr.MinScore,
			Action:   model.FraudAction(rr.Action),
		})
	}
	return rules, nil
}
