package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordNewsOutcome(t *testing.T) {
	before := testutil.ToFloat64(NewsItemsTotal.WithLabelValues(OutcomeSkipped))
	RecordNewsOutcome(OutcomeSkipped)
	RecordNewsOutcome(OutcomeSkipped)
	assert.Equal(t, before+2, testutil.ToFloat64(NewsItemsTotal.WithLabelValues(OutcomeSkipped)))
}

func TestRecordDeferredIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(NewsItemsTotal.WithLabelValues(OutcomeDeferred))
	RecordDeferred(0)
	RecordDeferred(3)
	assert.Equal(t, before+3, testutil.ToFloat64(NewsItemsTotal.WithLabelValues(OutcomeDeferred)))
}

func TestRecordFetch(t *testing.T) {
	items := testutil.ToFloat64(FetchedItemsTotal)
	failures := testutil.ToFloat64(SourceFailuresTotal.WithLabelValues("Broken"))

	RecordFetch(7, []string{"Broken"})

	assert.Equal(t, items+7, testutil.ToFloat64(FetchedItemsTotal))
	assert.Equal(t, failures+1, testutil.ToFloat64(SourceFailuresTotal.WithLabelValues("Broken")))
}

func TestRecordReminder(t *testing.T) {
	before := testutil.ToFloat64(RemindersTotal.WithLabelValues(ReminderSent))
	RecordReminder(ReminderSent)
	assert.Equal(t, before+1, testutil.ToFloat64(RemindersTotal.WithLabelValues(ReminderSent)))
}
