package cloudspending

import (
	"math"
	"strings"
	"time"
)

// NoData is written in place of a management group name or path that could not be resolved.
const NoData = "No Data"

// DateLayout is the calendar date format used for periods and API date bounds.
const DateLayout = "2006-01-02"

// Subscription is an accessible Azure subscription as returned by the subscription listing.
type Subscription struct {
	ID          string
	DisplayName string
	State       string // Enabled, Disabled, Warned, PastDue, Deleted
	TenantID    string
}

// Period is an inclusive window of calendar dates (UTC midnight).
type Period struct {
	Start time.Time
	End   time.Time
}

// LastDays returns the window [today-days, today] in UTC.
func LastDays(now time.Time, days int) Period {
	end := truncateDay(now.UTC())
	return Period{Start: end.AddDate(0, 0, -days), End: end}
}

// Contains reports whether t falls on a day within the period.
func (p Period) Contains(t time.Time) bool {
	d := truncateDay(t.UTC())
	return !d.Before(p.Start) && !d.After(p.End)
}

func (p Period) StartDate() string { return p.Start.Format(DateLayout) }
func (p Period) EndDate() string   { return p.End.Format(DateLayout) }

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SubscriptionRecord is one row of the custom log table. JSON names are the table columns.
type SubscriptionRecord struct {
	TimeGenerated       time.Time `json:"TimeGenerated"`
	RunID               string    `json:"RunId,omitempty"`
	SubscriptionID      string    `json:"SubscriptionId"`
	SubscriptionName    string    `json:"SubscriptionName"`
	SubscriptionState   string    `json:"SubscriptionState"`
	ManagementGroup     string    `json:"ManagementGroup"`
	ManagementGroupPath string    `json:"ManagementGroupPath"`
	CostAmount          float64   `json:"CostAmount"`
	BudgetAmount        *float64  `json:"BudgetAmount"`
	BudgetUsedPercent   *float64  `json:"BudgetUsedPercent"`
	Currency            string    `json:"Currency"`
	PeriodStart         string    `json:"PeriodStart"`
	PeriodEnd           string    `json:"PeriodEnd"`
}

// RecordInput carries everything NewSubscriptionRecord needs.
type RecordInput struct {
	RunID        string
	Subscription Subscription
	GroupName    string
	GroupPath    []string
	Cost         float64
	Budget       *float64
	Currency     string
	Period       Period
	Generated    time.Time
}

// NewSubscriptionRecord builds the record for one subscription. Unresolved hierarchy fields
// become NoData and the budget percentage is derived from cost and budget.
func NewSubscriptionRecord(in RecordInput) SubscriptionRecord {
	name := strings.TrimSpace(in.GroupName)
	path := JoinPath(in.GroupPath)
	if name == "" || path == "" {
		name, path = NoData, NoData
	}
	var budget *float64
	if in.Budget != nil {
		b := *in.Budget
		budget = &b
	}
	return SubscriptionRecord{
		TimeGenerated:       in.Generated.UTC(),
		RunID:               in.RunID,
		SubscriptionID:      in.Subscription.ID,
		SubscriptionName:    in.Subscription.DisplayName,
		SubscriptionState:   in.Subscription.State,
		ManagementGroup:     name,
		ManagementGroupPath: path,
		CostAmount:          in.Cost,
		BudgetAmount:        budget,
		BudgetUsedPercent:   BudgetUsedPercent(in.Cost, budget),
		Currency:            in.Currency,
		PeriodStart:         in.Period.StartDate(),
		PeriodEnd:           in.Period.EndDate(),
	}
}

// JoinPath joins root-first group names with "/". Blank names are dropped.
func JoinPath(path []string) string {
	parts := make([]string, 0, len(path))
	for _, p := range path {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

// BudgetUsedPercent returns cost/budget*100 rounded to two decimals, or nil when there is
// no budget or the budget is zero.
func BudgetUsedPercent(cost float64, budget *float64) *float64 {
	if budget == nil || *budget == 0 {
		return nil
	}
	p := math.Round(cost / *budget * 100 * 100) / 100
	return &p
}

// BudgetStatus classifies a subscription against its budget.
type BudgetStatus string

const (
	StatusOverBudget  BudgetStatus = "Over Budget"
	StatusNearLimit   BudgetStatus = "Near Limit"
	StatusUnderBudget BudgetStatus = "Under Budget"
	StatusNoBudget    BudgetStatus = "No Budget"
)

const (
	// OverBudgetThreshold is exclusive: exactly 100% is still Near Limit.
	OverBudgetThreshold = 100.0
	// NearLimitThreshold is inclusive.
	NearLimitThreshold = 85.0
)

// ClassifyBudget maps a budget-used percentage to a status.
func ClassifyBudget(percent *float64) BudgetStatus {
	switch {
	case percent == nil:
		return StatusNoBudget
	case *percent > OverBudgetThreshold:
		return StatusOverBudget
	case *percent >= NearLimitThreshold:
		return StatusNearLimit
	default:
		return StatusUnderBudget
	}
}

// StrategyObserver is notified of every fallback strategy attempt.
// Outcomes are OutcomeHit, OutcomeMiss, OutcomeError and OutcomeSkipped.
type StrategyObserver interface {
	ObserveStrategy(component, strategy, outcome string)
}

const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// NopObserver discards observations.
type NopObserver struct{}

func (NopObserver) ObserveStrategy(string, string, string) {}
