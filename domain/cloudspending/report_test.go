package cloudspending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id, path string, cost float64, budget *float64) SubscriptionRecord {
	return NewSubscriptionRecord(RecordInput{
		Subscription: Subscription{ID: id},
		GroupName:    path,
		GroupPath:    []string{path},
		Cost:         cost,
		Budget:       budget,
		Currency:     "USD",
		Period:       LastDays(time.Now(), 30),
		Generated:    time.Now(),
	})
}

func TestSummarizeByGroup(t *testing.T) {
	totals := SummarizeByGroup([]SubscriptionRecord{
		rec("a", "Prod", 1200, ptr(1000)),
		rec("b", "Prod", 300, nil),
		rec("c", "Dev", 100, ptr(400)),
		rec("d", "", 5, nil),
	})
	require.Len(t, totals, 3)

	prod := totals[0]
	assert.Equal(t, "Prod", prod.ManagementGroupPath)
	assert.Equal(t, 2, prod.Subscriptions)
	assert.Equal(t, 1500.0, prod.CostAmount)
	assert.Equal(t, 1000.0, prod.BudgetAmount)
	require.NotNil(t, prod.BudgetUsedPercent)
	// only budgeted subscriptions count toward the percentage
	assert.Equal(t, 120.0, *prod.BudgetUsedPercent)
	assert.Equal(t, 1, prod.OverBudget)

	dev := totals[1]
	assert.Equal(t, 25.0, *dev.BudgetUsedPercent)

	unresolved := totals[2]
	assert.Equal(t, NoData, unresolved.ManagementGroupPath)
	assert.Nil(t, unresolved.BudgetUsedPercent)
}
