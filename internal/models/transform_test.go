package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformUnmarshal_Variants(t *testing.T) {
	var tr Transform
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"regex","config":{"pattern":"(\\d+) items","group":1}}`), &tr))
	assert.Equal(t, TransformRegex, tr.Kind)
	require.NotNil(t, tr.Regex)
	assert.Equal(t, `(\d+) items`, tr.Regex.Pattern)
	require.NotNil(t, tr.Regex.Group)
	assert.Equal(t, 1, *tr.Regex.Group)

	var trim Transform
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"trim"}`), &trim))
	assert.Equal(t, TransformTrim, trim.Kind)

	var num Transform
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"number","config":{"decimal_separator":",","thousands_separator":"."}}`), &num))
	assert.Equal(t, ",", num.Number.DecimalSeparator)
}

func TestTransformUnmarshal_RejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"unknown kind":        `{"kind":"eval","config":{}}`,
		"missing kind":        `{"config":{"pattern":"x"}}`,
		"unknown field":       `{"kind":"date","config":{"fmt":"YYYY"}}`,
		"bad regex":           `{"kind":"regex","config":{"pattern":"("}}`,
		"group out of range":  `{"kind":"regex","config":{"pattern":"a(b)","group":2}}`,
		"trim with config":    `{"kind":"trim","config":{"x":1}}`,
		"custom without name": `{"kind":"custom","config":{}}`,
		"same separators":     `{"kind":"number","config":{"decimal_separator":".","thousands_separator":"."}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var tr Transform
			assert.Error(t, json.Unmarshal([]byte(raw), &tr))
		})
	}
}

func TestRuleJSON_CarriesTransform(t *testing.T) {
	raw := `{"assignment_id":"a1","target_column":"price","selector":".price","transform":{"kind":"number"}}`
	var rule ExtractionRule
	require.NoError(t, json.Unmarshal([]byte(raw), &rule))
	require.NotNil(t, rule.Transform)
	assert.Equal(t, TransformNumber, rule.Transform.Kind)
	assert.Equal(t, SelectorCSS, rule.Kind())
	assert.Equal(t, AttributeText, rule.AttributeOrDefault())

	out, err := json.Marshal(rule)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"transform":{"kind":"number"}`)
}

func TestJobStatusTransitions(t *testing.T) {
	assert.True(t, JobStatusPending.CanTransitionTo(JobStatusRunning))
	assert.True(t, JobStatusStaging.CanTransitionTo(JobStatusCompleted))
	assert.True(t, JobStatusRunning.CanTransitionTo(JobStatusCancelled))
	assert.False(t, JobStatusRunning.CanTransitionTo(JobStatusCompleted))
	assert.False(t, JobStatusCompleted.CanTransitionTo(JobStatusStaging))
	assert.False(t, JobStatusFailed.CanTransitionTo(JobStatusRunning))
	assert.True(t, JobStatusStaging.IsActive())
	assert.False(t, JobStatusCancelled.IsActive())
}

func TestAssignmentSchedulable(t *testing.T) {
	a := &Assignment{Status: AssignmentActive, SyncMode: SyncModeAuto, ScheduleType: ScheduleDaily}
	assert.True(t, a.IsSchedulable())

	a.ScheduleType = ScheduleManual
	assert.False(t, a.IsSchedulable())

	a.ScheduleType = ScheduleHourly
	a.SyncMode = SyncModeManual
	assert.False(t, a.IsSchedulable())

	a.SyncMode = SyncModeAuto
	a.Status = AssignmentPaused
	assert.False(t, a.IsSchedulable())
}

func TestDecodeRows_RestoresNumbers(t *testing.T) {
	data, err := EncodeRows([]Row{{"title": "A", "qty": int64(3), "price": 9.5}})
	require.NoError(t, err)

	rows, err := DecodeRows(data)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0]["qty"])
	assert.Equal(t, 9.5, rows[0]["price"])
	assert.Equal(t, "A", rows[0]["title"])
}
