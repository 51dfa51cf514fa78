package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/cloud-rollout/internal/models"
)

func checkoutHistory(base time.Time) []models.Transition {
	return []models.Transition{
		{
			Service:     "checkout",
			From:        models.StateStable,
			To:          models.StateStaging,
			Fingerprint: "sha256:4fb31aa2c1",
			Reason:      "new fingerprint discovered in registry",
			Time:        base,
		},
		{
			Service:     "checkout",
			From:        models.StateStaging,
			To:          models.StateValidating,
			Fingerprint: "sha256:4fb31aa2c1",
			Reason:      "candidate ready, validation started",
			Time:        base.Add(3 * time.Second),
		},
		{
			Service:     "checkout",
			From:        models.StateValidating,
			To:          models.StateCommitting,
			Fingerprint: "sha256:4fb31aa2c1",
			Reason:      "validation passed with 3 consecutive probes",
			Time:        base.Add(9 * time.Second),
		},
	}
}

func TestJournalRoundTrip(t *testing.T) {
	ctx := context.Background()
	j := &Journal{DB: OpenTestDB(t)}

	base := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	written := checkoutHistory(base)

	n, err := j.WriteTransitions(ctx, written)
	require.NoError(t, err)
	assert.Equal(t, len(written), n)

	// A second service must not leak into checkout's history.
	n, err = j.WriteTransitions(ctx, []models.Transition{{
		Service:     "billing",
		From:        models.StateStable,
		To:          models.StateStaging,
		Fingerprint: "sha256:77ac01",
		Reason:      "new fingerprint discovered in registry",
		Time:        base.Add(time.Minute),
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := j.History(ctx, "checkout", 10)
	require.NoError(t, err)
	require.Len(t, got, len(written))

	// Newest first.
	for i, tr := range got {
		want := written[len(written)-1-i]
		assert.Equal(t, want.Service, tr.Service)
		assert.Equal(t, want.From, tr.From)
		assert.Equal(t, want.To, tr.To)
		assert.Equal(t, want.Fingerprint, tr.Fingerprint)
		assert.Equal(t, want.Reason, tr.Reason)
		assert.True(t, want.Time.Equal(tr.Time), "transition %d: want %v, got %v", i, want.Time, tr.Time)
	}
}

func TestJournalHistoryHonorsLimit(t *testing.T) {
	ctx := context.Background()
	j := &Journal{DB: OpenTestDB(t)}

	base := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	_, err := j.WriteTransitions(ctx, checkoutHistory(base))
	require.NoError(t, err)

	got, err := j.History(ctx, "checkout", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.StateCommitting, got[0].To)
	assert.Equal(t, models.StateValidating, got[1].To)
}

func TestJournalHistoryDefaultLimit(t *testing.T) {
	ctx := context.Background()
	j := &Journal{DB: OpenTestDB(t)}

	base := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	_, err := j.WriteTransitions(ctx, checkoutHistory(base))
	require.NoError(t, err)

	got, err := j.History(ctx, "checkout", 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestJournalHistoryUnknownService(t *testing.T) {
	j := &Journal{DB: OpenTestDB(t)}

	got, err := j.History(context.Background(), "ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJournalWriteReportsProgress(t *testing.T) {
	ctx := context.Background()
	db := OpenTestDB(t)
	j := &Journal{DB: db}

	base := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, db.Close())

	n, err := j.WriteTransitions(ctx, checkoutHistory(base))
	require.Error(t, err)
	assert.Zero(t, n)
}
