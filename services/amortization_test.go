package services

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqIDs(prefix string) IDGenerator {
	n := 0
	return IDGeneratorFunc(func() string {
		n++
		return prefix + strconv.Itoa(n)
	})
}

func TestBuildScheduleTwoMonths(t *testing.T) {
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	items, err := BuildSchedule(start, decimal.NewFromInt(1000), 12, 2, seqIDs("i"))
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "10.00", items[0].InterestDue.StringFixed(2))
	assert.Equal(t, "497.51", items[0].PrincipalDue.StringFixed(2))
	assert.Equal(t, "507.51", items[0].TotalDue.StringFixed(2))
	assert.Equal(t, time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), items[0].DueDate)
	assert.Equal(t, 1, items[0].Seq)
	assert.Equal(t, "i1", items[0].ID)

	assert.Equal(t, "5.02", items[1].InterestDue.StringFixed(2))
	assert.Equal(t, "502.49", items[1].PrincipalDue.StringFixed(2))
	assert.Equal(t, "507.51", items[1].TotalDue.StringFixed(2))
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), items[1].DueDate)
	assert.False(t, items[1].Paid)
	assert.Nil(t, items[1].PaidAt)
}

func TestBuildScheduleZeroRate(t *testing.T) {
	items, err := BuildSchedule(time.Now(), decimal.NewFromInt(100), 0, 3, nil)
	require.NoError(t, err)
	require.Len(t, items, 3)

	for _, it := range items {
		assert.True(t, it.InterestDue.IsZero())
		assert.NotEmpty(t, it.ID)
	}
	assert.Equal(t, "33.33", items[0].PrincipalDue.StringFixed(2))
	assert.Equal(t, "33.33", items[1].PrincipalDue.StringFixed(2))
	assert.Equal(t, "33.34", items[2].PrincipalDue.StringFixed(2))
}

func TestBuildSchedulePrincipalSum(t *testing.T) {
	cases := []struct {
		principal string
		rate      float64
		months    int
	}{
		{"1000", 12, 2},
		{"250000", 7.5, 360},
		{"12345.67", 19.9, 37},
		{"500", 0.1, 1},
		{"99.99", 35, 12},
		{"1000000", 0, 7},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_%v_%d", tc.principal, tc.rate, tc.months), func(t *testing.T) {
			principal := decimal.RequireFromString(tc.principal)
			start := time.Date(2023, 1, 31, 12, 0, 0, 0, time.UTC)

			items, err := BuildSchedule(start, principal, tc.rate, tc.months, nil)
			require.NoError(t, err)
			require.Len(t, items, tc.months)

			sum := decimal.Zero
			prev := start
			for i, it := range items {
				sum = sum.Add(it.PrincipalDue)
				assert.Equal(t, i+1, it.Seq)
				assert.True(t, it.DueDate.After(prev), "due dates must increase")
				assert.Equal(t, start.AddDate(0, i+1, 0), it.DueDate)
				assert.True(t, it.TotalDue.Equal(it.PrincipalDue.Add(it.InterestDue)))
				assert.False(t, it.InterestDue.IsNegative())
				prev = it.DueDate
			}
			assert.True(t, sum.Sub(principal).Abs().LessThanOrEqual(decimal.New(1, -2)),
				"sum of principal %s differs from %s", sum, principal)
		})
	}
}

func TestBuildScheduleRejectsBadInput(t *testing.T) {
	var verr *ValidationError

	_, err := BuildSchedule(time.Now(), decimal.Zero, 10, 12, nil)
	assert.ErrorAs(t, err, &verr)

	_, err = BuildSchedule(time.Now(), decimal.NewFromInt(100), -1, 12, nil)
	assert.ErrorAs(t, err, &verr)

	_, err = BuildSchedule(time.Now(), decimal.NewFromInt(100), 10, 0, nil)
	assert.ErrorAs(t, err, &verr)
}

func TestCalculateAnnuityPayment(t *testing.T) {
	assert.InDelta(t, 507.5124, calculateAnnuityPayment(1000, 0.01, 2), 1e-4)
	assert.InDelta(t, 25.0, calculateAnnuityPayment(100, 0, 4), 1e-9)
}
