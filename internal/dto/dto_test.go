package dto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultInfo_MarshalJSON(t *testing.T) {
	ts := time.Date(2025, 3, 7, 9, 5, 0, 0, time.UTC)
	info := ResultInfo{ID: "abc", Kind: "image", TotalCount: 3, Density: 1, Unit: "m", Date: ts, TimeOfDay: ts}

	data, err := json.Marshal(info)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "07-03-2025", out["date"])
	assert.Equal(t, "09:05", out["timeOfDay"])
	assert.Equal(t, "abc", out["id"])
	assert.EqualValues(t, 3, out["totalCount"])
}

func TestProgressEvent_OmitsEmptyError(t *testing.T) {
	data, err := json.Marshal(ProgressEvent{Job: "j", Frame: 4, Detections: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"job":"j","frame":4,"detections":2,"done":false}`, string(data))
}
