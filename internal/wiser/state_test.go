package wiser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		name    string
		typ     LoadType
		raw     string
		want    LoadState
		wantErr bool
	}{
		{name: "onoff off", typ: LoadTypeOnOff, raw: `{"bri":0}`, want: BrightnessState(0)},
		{name: "dim on", typ: LoadTypeDim, raw: `{"bri":10000}`, want: BrightnessState(10000)},
		{name: "dali", typ: LoadTypeDALI, raw: `{"bri":42}`, want: BrightnessState(42)},
		{name: "motor defaults running and angle", typ: LoadTypeMotor, raw: `{"pos":3000}`, want: MotionState(Motion{Pos: 3000})},
		{name: "motor missing pos", typ: LoadTypeMotor, raw: `{"running":false}`, wantErr: true},
		{name: "dim with motion", typ: LoadTypeDim, raw: `{"pos":10}`, wantErr: true},
		{name: "ambiguous", typ: LoadTypeDim, raw: `{"bri":10,"pos":10}`, wantErr: true},
		{name: "missing", typ: LoadTypeOnOff, raw: ``, wantErr: true},
		{name: "null", typ: LoadTypeOnOff, raw: `null`, wantErr: true},
		{name: "unknown type is lenient", typ: "hvac", raw: `{"flags":{}}`, want: LoadState{}},
		{name: "unknown type keeps decodable state", typ: "hvac", raw: `{"bri":3}`, want: BrightnessState(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseState(tt.typ, json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad_UnmarshalJSON(t *testing.T) {
	var load Load
	err := json.Unmarshal([]byte(`{"id":"12","name":"Desk","type":"dali","subtype":"dt8","device":"00004d1a","channel":"2","state":{"bri":200}}`), &load)
	require.NoError(t, err)

	assert.Equal(t, LoadID(12), load.ID)
	assert.Equal(t, "dt8", load.SubType)
	assert.Equal(t, Channel("2"), load.Channel)
	assert.Equal(t, StateBrightness, load.State.Kind)
	assert.Equal(t, 200, load.State.Bri)
}

func TestLoadState_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(BrightnessState(12))
	require.NoError(t, err)
	assert.JSONEq(t, `{"bri":12}`, string(data))

	data, err = json.Marshal(MotionState(Motion{Running: true, Pos: 100, Angle: 3}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"running":true,"pos":100,"angle":3}`, string(data))
}
