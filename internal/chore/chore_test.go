package chore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/testutil"
)

func occ(ts string, id string) ir.Object {
	return ir.Object{"occurrenceTime": ir.String(ts), "id": ir.String(id)}
}

func TestLatest(t *testing.T) {
	tests := []struct {
		name   string
		values []ir.Value
		wantID string
	}{
		{"single", []ir.Value{occ("2024-01-01T00:00:00Z", "a")}, "a"},
		{"later wins", []ir.Value{occ("2024-01-01T00:00:00Z", "a"), occ("2024-02-01T00:00:00Z", "b")}, "b"},
		{"order independent", []ir.Value{occ("2024-02-01T00:00:00Z", "b"), occ("2024-01-01T00:00:00Z", "a")}, "b"},
		{"first seen wins ties", []ir.Value{occ("2024-01-01T00:00:00Z", "a"), occ("2024-01-01T00:00:00Z", "b")}, "a"},
		{"offsets compare as instants", []ir.Value{occ("2024-01-01T10:00:00+02:00", "a"), occ("2024-01-01T09:00:00Z", "b")}, "b"},
		{"unparseable skipped", []ir.Value{ir.Object{"occurrenceTime": ir.String("soon")}, occ("2020-01-01T00:00:00Z", "a")}, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Latest(tt.values).(ir.Object)
			require.True(t, ok)
			id, _ := got.Str("id")
			assert.Equal(t, tt.wantID, id)
		})
	}

	assert.Equal(t, ir.Null{}, Latest(nil))
}

func TestMap(t *testing.T) {
	due := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	doc := Completion{ID: "c1", Chore: "gutters", OccurrenceTime: testutil.Epoch, NextDueTime: due}.ToObject()

	var keys, values []ir.Value
	require.NoError(t, Map(doc, func(k, v ir.Value) {
		keys = append(keys, k)
		values = append(values, v)
	}))
	assert.Equal(t, []ir.Value{ir.String("gutters")}, keys)
	assert.Equal(t, []ir.Value{ir.Object{
		"id":             ir.String("c1"),
		"occurrenceTime": ir.String("2024-01-01T00:00:00Z"),
		"nextDueTime":    ir.String("2024-03-01T00:00:00Z"),
	}}, values)

	require.NoError(t, Map(ir.Object{"type": ir.String("tx")}, func(ir.Value, ir.Value) { t.Fatal("emitted") }))

	bad := ir.Object{"type": ir.String(DocType), "chore": ir.String("x"), "occurrenceTime": ir.String("yesterday")}
	assert.Error(t, Map(bad, func(ir.Value, ir.Value) {}))
}

func TestStatuses(t *testing.T) {
	reg := ir.NewRegistry()
	st := testutil.OpenStore(t, reg)
	testutil.DeployViews(t, st, reg, Views()...)

	clock := testutil.NewDeterministicClock(24 * time.Hour)
	var docs []ir.Object
	for i, name := range []string{"filter", "gutters", "filter", "filter", "gutters"} {
		done := clock.Tick()
		docs = append(docs, Completion{
			ID:             "done-" + string(rune('a'+i)),
			Chore:          name,
			OccurrenceTime: done,
			NextDueTime:    done.Add(7 * 24 * time.Hour),
		}.ToObject())
	}
	testutil.PutDocs(t, st, docs...)

	got, err := Statuses(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "filter", got[0].Chore)
	assert.Equal(t, "done-d", got[0].LastID)
	assert.True(t, testutil.Epoch.Add(4*24*time.Hour).Equal(got[0].LastDone))

	assert.Equal(t, "gutters", got[1].Chore)
	assert.Equal(t, "done-e", got[1].LastID)
	assert.True(t, testutil.Epoch.Add(12*24*time.Hour).Equal(got[1].NextDue))

	assert.False(t, got[1].Overdue(testutil.Epoch.Add(10*24*time.Hour)))
	assert.True(t, got[1].Overdue(testutil.Epoch.Add(13*24*time.Hour)))
	assert.False(t, Status{}.Overdue(time.Now()))
}
