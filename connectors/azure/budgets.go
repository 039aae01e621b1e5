package azure

import (
	"context"
	"fmt"

	"azcost/domain/costs"
)

const costManagementBudgetsAPIVersion = "2023-11-01"

type budget struct {
	Name       string `json:"name"`
	Properties struct {
		Amount *float64 `json:"amount"`
	} `json:"properties"`
}

func (c *Client) listBudgets(ctx context.Context, path, version string) ([]costs.Budget, error) {
	raw, err := listAll[budget](ctx, c, path, apiVersion(version))
	if err != nil {
		return nil, err
	}
	out := make([]costs.Budget, 0, len(raw))
	for _, b := range raw {
		if b.Properties.Amount == nil {
			continue
		}
		out = append(out, costs.Budget{Name: b.Name, Amount: *b.Properties.Amount})
	}
	return out, nil
}

// ListBudgets lists the consumption budgets defined on the subscription scope.
func (c *Client) ListBudgets(ctx context.Context, subscriptionID string) ([]costs.Budget, error) {
	out, err := c.listBudgets(ctx, subscriptionPath(subscriptionID, "/providers/Microsoft.Consumption/budgets"), consumptionAPIVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}
	return out, nil
}

// ListCostManagementBudgets lists the same scope through the Cost Management provider.
func (c *Client) ListCostManagementBudgets(ctx context.Context, subscriptionID string) ([]costs.Budget, error) {
	out, err := c.listBudgets(ctx, subscriptionPath(subscriptionID, "/providers/Microsoft.CostManagement/budgets"), costManagementBudgetsAPIVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to list cost management budgets: %w", err)
	}
	return out, nil
}
