package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"

	"azcost/domain/cloudspending"
	"azcost/domain/costs"
)

const (
	costManagementAPIVersion = "2023-03-01"
	consumptionAPIVersion    = "2023-05-01"
	billingAPIVersion        = "2018-03-01-preview"
)

// costQueryRequest represents the request body for Azure Cost Management Query API
type costQueryRequest struct {
	Type       string         `json:"type"`
	Timeframe  string         `json:"timeframe"`
	TimePeriod *timePeriod    `json:"timePeriod,omitempty"`
	Dataset    datasetRequest `json:"dataset"`
}

type timePeriod struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type datasetRequest struct {
	Granularity string            `json:"granularity"`
	Aggregation map[string]aggDef `json:"aggregation"`
}

type aggDef struct {
	Name     string `json:"name"`
	Function string `json:"function"`
}

// costQueryResponse represents the response from Azure Cost Management Query API
type costQueryResponse struct {
	Properties struct {
		NextLink string      `json:"nextLink"`
		Columns  []columnDef `json:"columns"`
		Rows     [][]any     `json:"rows"`
	} `json:"properties"`
}

type columnDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryCost runs a daily ActualCost query over the period and returns one cost per row.
func (c *Client) QueryCost(ctx context.Context, subscriptionID string, p cloudspending.Period) ([]float64, error) {
	reqBody := costQueryRequest{
		Type:      "ActualCost",
		Timeframe: "Custom",
		TimePeriod: &timePeriod{
			From: p.Start.Format(time.RFC3339),
			To:   p.End.Add(24*time.Hour - time.Second).Format(time.RFC3339),
		},
		Dataset: datasetRequest{
			Granularity: "Daily",
			Aggregation: map[string]aggDef{
				"totalCost": {Name: "PreTaxCost", Function: "Sum"},
			},
		},
	}

	var resp costQueryResponse
	path := subscriptionPath(subscriptionID, "/providers/Microsoft.CostManagement/query")
	if err := c.do(ctx, http.MethodPost, path, apiVersion(costManagementAPIVersion), reqBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to query costs: %w", err)
	}
	points, err := parseCostRows(&resp)
	if err != nil {
		return nil, err
	}
	for next := resp.Properties.NextLink; next != ""; next = resp.Properties.NextLink {
		req, err := runtime.NewRequest(ctx, http.MethodPost, next)
		if err != nil {
			return nil, fmt.Errorf("failed to create next page request: %w", err)
		}
		if err := runtime.MarshalAsJSON(req, reqBody); err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		resp = costQueryResponse{}
		if err := c.send(req, &resp); err != nil {
			return nil, fmt.Errorf("failed to query costs: %w", err)
		}
		more, err := parseCostRows(&resp)
		if err != nil {
			return nil, err
		}
		points = append(points, more...)
	}
	slog.Debug("azure.cost_query.rows", "subscription_id", subscriptionID, "rows", len(points))
	return points, nil
}

// parseCostRows extracts the cost column. Rows with a non numeric cost are skipped.
func parseCostRows(resp *costQueryResponse) ([]float64, error) {
	costIdx := -1
	for i, col := range resp.Properties.Columns {
		switch col.Name {
		case "totalCost", "PreTaxCost", "Cost":
			if costIdx == -1 {
				costIdx = i
			}
		}
	}
	if costIdx == -1 {
		if len(resp.Properties.Rows) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("missing cost column in response")
	}

	var points []float64
	for _, row := range resp.Properties.Rows {
		if len(row) <= costIdx {
			continue
		}
		if v, ok := number(row[costIdx]); ok {
			points = append(points, v)
		}
	}
	return points, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// usageDetail covers both the legacy and modern consumption schemas.
type usageDetail struct {
	Properties struct {
		Date                  string   `json:"date"`
		UsageStart            string   `json:"usageStart"`
		CostInBillingCurrency *float64 `json:"costInBillingCurrency"`
		Cost                  *float64 `json:"cost"`
		PretaxCost            *float64 `json:"pretaxCost"`
	} `json:"properties"`
}

func (u usageDetail) toDomain() costs.UsageDetail {
	out := costs.UsageDetail{Date: parseDate(u.Properties.Date)}
	if out.Date.IsZero() {
		out.Date = parseDate(u.Properties.UsageStart)
	}
	for _, v := range []*float64{u.Properties.CostInBillingCurrency, u.Properties.Cost, u.Properties.PretaxCost} {
		if v != nil {
			out.Cost = *v
			break
		}
	}
	return out
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse(cloudspending.DateLayout, s); err == nil {
		return t
	}
	return time.Time{}
}

func (c *Client) usageDetails(ctx context.Context, path string, query url.Values) ([]costs.UsageDetail, error) {
	raw, err := listAll[usageDetail](ctx, c, path, query)
	if err != nil {
		return nil, err
	}
	out := make([]costs.UsageDetail, 0, len(raw))
	for _, u := range raw {
		out = append(out, u.toDomain())
	}
	return out, nil
}

// ListUsageDetails lists usage lines with an OData filter on the usage dates.
func (c *Client) ListUsageDetails(ctx context.Context, subscriptionID string, p cloudspending.Period) ([]costs.UsageDetail, error) {
	filter := fmt.Sprintf("properties/usageStart ge '%s' and properties/usageEnd le '%s'", p.StartDate(), p.EndDate())
	details, err := c.usageDetails(ctx, subscriptionPath(subscriptionID, "/providers/Microsoft.Consumption/usageDetails"),
		apiVersion(consumptionAPIVersion, "$filter", filter))
	if err != nil {
		return nil, fmt.Errorf("failed to list usage details: %w", err)
	}
	return details, nil
}

// QueryUsageDetails lists usage lines bounded by the startDate and endDate parameters.
func (c *Client) QueryUsageDetails(ctx context.Context, subscriptionID string, p cloudspending.Period) ([]costs.UsageDetail, error) {
	details, err := c.usageDetails(ctx, subscriptionPath(subscriptionID, "/providers/Microsoft.Consumption/usageDetails"),
		apiVersion(consumptionAPIVersion, "startDate", p.StartDate(), "endDate", p.EndDate()))
	if err != nil {
		return nil, fmt.Errorf("failed to query usage details: %w", err)
	}
	return details, nil
}

type billingPeriod struct {
	Name       string `json:"name"`
	Properties struct {
		BillingPeriodStartDate string `json:"billingPeriodStartDate"`
		BillingPeriodEndDate   string `json:"billingPeriodEndDate"`
	} `json:"properties"`
}

func (c *Client) ListBillingPeriods(ctx context.Context, subscriptionID string) ([]costs.BillingPeriod, error) {
	raw, err := listAll[billingPeriod](ctx, c, subscriptionPath(subscriptionID, "/providers/Microsoft.Billing/billingPeriods"),
		apiVersion(billingAPIVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to list billing periods: %w", err)
	}
	out := make([]costs.BillingPeriod, 0, len(raw))
	for _, b := range raw {
		out = append(out, costs.BillingPeriod{
			Name:  b.Name,
			Start: parseDate(b.Properties.BillingPeriodStartDate),
			End:   parseDate(b.Properties.BillingPeriodEndDate),
		})
	}
	return out, nil
}

func (c *Client) BillingPeriodUsage(ctx context.Context, subscriptionID, billingPeriod string) ([]costs.UsageDetail, error) {
	path := subscriptionPath(subscriptionID, "/providers/Microsoft.Billing/billingPeriods/", url.PathEscape(billingPeriod),
		"/providers/Microsoft.Consumption/usageDetails")
	details, err := c.usageDetails(ctx, path, apiVersion(consumptionAPIVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to list usage for billing period %s: %w", billingPeriod, err)
	}
	return details, nil
}
