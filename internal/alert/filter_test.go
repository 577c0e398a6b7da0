package alert

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldwatch/internal/classifier"
)

func TestFilterNormalized(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in         Filter
		limit, off int
	}{
		{Filter{}, DefaultLimit, 0},
		{Filter{Limit: 500}, MaxLimit, 0},
		{Filter{Limit: 10, Page: 3}, 10, 20},
		{Filter{Limit: 10, Offset: -5}, 10, 0},
	}
	for _, tt := range tests {
		got := tt.in.Normalized()
		assert.Equal(t, tt.limit, got.Limit)
		assert.Equal(t, tt.off, got.Offset)
	}
}

func TestPaginate(t *testing.T) {
	t.Parallel()

	var alerts []Alert
	for i := range 25 {
		status := StatusOpen
		if i%5 == 0 {
			status = StatusResolved
		}
		alerts = append(alerts, Alert{
			ID:        fmt.Sprintf("a%02d", i),
			SensorID:  fmt.Sprintf("node-%d", i%2),
			AlertType: classifier.AlertThreshold,
			Severity:  classifier.Low,
			Status:    status,
			OpenedAt:  t0.Add(time.Duration(i) * time.Minute),
		})
	}

	page := Paginate(alerts, Filter{Limit: 10})
	assert.Equal(t, 25, page.Total)
	require.Len(t, page.Alerts, 10)
	assert.Equal(t, "a24", page.Alerts[0].ID, "newest first")
	assert.True(t, page.HasMore)

	page = Paginate(alerts, Filter{Limit: 10, Page: 3})
	require.Len(t, page.Alerts, 5)
	assert.False(t, page.HasMore)

	page = Paginate(alerts, Filter{Statuses: []Status{StatusResolved}})
	assert.Equal(t, 5, page.Total)

	page = Paginate(alerts, Filter{SensorID: "node-1", Since: t0.Add(20 * time.Minute)})
	for _, a := range page.Alerts {
		assert.Equal(t, "node-1", a.SensorID)
		assert.False(t, a.OpenedAt.Before(t0.Add(20*time.Minute)))
	}
	assert.Equal(t, 2, page.Total)

	unread := false
	page = Paginate(alerts, Filter{IsRead: &unread, Offset: 100})
	assert.Empty(t, page.Alerts)
	assert.NotNil(t, page.Alerts)
	assert.Equal(t, 25, page.Total)
}
