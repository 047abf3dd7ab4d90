package wiser

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Connection{
		Address: strings.TrimPrefix(srv.URL, "http://"),
		Token:   "secret",
	}, Options{Timeout: 2 * time.Second, Retries: 1})
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func TestConnection_BaseURL(t *testing.T) {
	conn := Connection{Address: "192.168.1.20", Token: "x"}
	assert.Equal(t, "http://192.168.1.20/api/", conn.BaseURL())
}

func TestClient_ListDevices(t *testing.T) {
	t.Run("decodes devices and sends bearer token", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/devices", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			writeJSON(w, `{"status":"success","data":[
				{"id":"00004d1a","a":{"comm_name":"Dimmer","serial_nr":"A1"},"c":{"comm_name":"Living room","serial_nr":"C1"}},
				{"id":"00004d1b","a":{"comm_name":"Switch","serial_nr":"A2"},"c":{}}
			]}`)
		})

		devices, err := c.ListDevices(context.Background())
		require.NoError(t, err)
		require.Len(t, devices, 2)
		assert.Equal(t, "Living room", devices[0].CommName())
		assert.Equal(t, "C1", devices[0].SerialNr())
		assert.Equal(t, "Switch", devices[1].CommName())
		assert.Equal(t, "A2", devices[1].SerialNr())
	})

	t.Run("non-success status yields empty list", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, `{"status":"error","message":"busy"}`)
		})

		devices, err := c.ListDevices(context.Background())
		require.NoError(t, err)
		assert.Empty(t, devices)
	})

	t.Run("http failure is a transport error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := c.ListDevices(context.Background())
		require.Error(t, err)
		assert.True(t, IsTransportError(err))

		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	})

	t.Run("malformed envelope is a transport error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, `[1,2,3]`)
		})

		_, err := c.ListDevices(context.Background())
		assert.True(t, IsTransportError(err))
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}

func TestClient_RetriesReads(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, `{"status":"success","data":[]}`)
	})

	devices, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantCalls: 1},
		{name: "not found", status: http.StatusNotFound, wantCalls: 1},
		{name: "server error", status: http.StatusInternalServerError, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			})

			_, err := c.ListDevices(context.Background())
			require.Error(t, err)

			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.status, te.StatusCode)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(&TransportError{Op: "GetLoad", StatusCode: 404}))
	assert.True(t, IsRetryable(&TransportError{Op: "GetLoad", StatusCode: 503}))
	assert.True(t, IsRetryable(&TransportError{Op: "GetLoad", Err: context.DeadlineExceeded}))
}

func TestClient_GetDevice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/devices/00004d1a", r.URL.Path)
		writeJSON(w, `{"status":"success","data":{
			"id":"00004d1a",
			"a":{"fw_id":"0x0100","hw_id":"0x1202","serial_nr":"A1","comm_name":"Dimmer"},
			"c":{"fw_version":"3.1.2"},
			"inputs":[{"type":"up down"}],
			"outputs":[{"load":4,"type":"dimmer","sub_type":""},{"load":5,"type":"dimmer","sub_type":""}]
		}}`)
	})

	device, err := c.GetDevice(context.Background(), "00004d1a")
	require.NoError(t, err)
	require.Len(t, device.Outputs, 2)
	assert.Equal(t, LoadID(4), device.Outputs[0].Load)
	assert.Equal(t, LoadID(5), device.Outputs[1].Load)
	assert.Equal(t, "0x0100", device.FwID())
	assert.Equal(t, "3.1.2", device.FirmwareVersion())
}

func TestClient_GetDevice_VendorFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"status":"error","message":"no such device"}`)
	})

	_, err := c.GetDevice(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrVendorStatus)
}

func TestClient_GetLoad(t *testing.T) {
	tests := []struct {
		name string
		body string
		want LoadState
	}{
		{
			name: "enveloped dimmer",
			body: `{"status":"success","data":{"id":4,"name":"Ceiling","type":"dim","device":"00004d1a","channel":0,"state":{"bri":5000}}}`,
			want: BrightnessState(5000),
		},
		{
			name: "bare motor",
			body: `{"id":"4","name":"Blind","type":"motor","subtype":"","device":"00004d1a","channel":1,"state":{"running":true,"pos":2500,"angle":10}}`,
			want: MotionState(Motion{Running: true, Pos: 2500, Angle: 10}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/loads/4", r.URL.Path)
				writeJSON(w, tt.body)
			})

			load, err := c.GetLoad(context.Background(), 4)
			require.NoError(t, err)
			assert.Equal(t, LoadID(4), load.ID)
			assert.Equal(t, tt.want, load.State)
		})
	}
}

func TestClient_GetLoad_RejectsMismatchedState(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"status":"success","data":{"id":4,"type":"dim","state":{"pos":100}}}`)
	})

	_, err := c.GetLoad(context.Background(), 4)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestClient_SetLoadState(t *testing.T) {
	t.Run("posts bri and returns confirmed state", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/load/7", r.URL.Path)

			var body map[string]int
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, 254, body["bri"])

			writeJSON(w, `{"status":"success","data":{"id":7,"type":"dim","state":{"bri":128}}}`)
		})

		load, err := c.SetLoadState(context.Background(), 7, WithBri(254))
		require.NoError(t, err)
		assert.Equal(t, 128, load.State.Bri)
		assert.True(t, load.State.On())
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("accepts bare state response", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, `{"status":"success","data":{"bri":0}}`)
		})

		load, err := c.SetLoadState(context.Background(), 7, WithBri(0))
		require.NoError(t, err)
		assert.Equal(t, LoadID(7), load.ID)
		assert.Equal(t, StateBrightness, load.State.Kind)
		assert.False(t, load.State.On())
	})

	t.Run("empty update posts no body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			assert.Empty(t, body)
			writeJSON(w, `{"status":"success","data":{"bri":10}}`)
		})

		_, err := c.SetLoadState(context.Background(), 7, LoadUpdate{})
		require.NoError(t, err)
	})

	t.Run("mutations are not retried", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := c.SetLoadState(context.Background(), 7, WithBri(10))
		assert.True(t, IsTransportError(err))
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestClient_Identify(t *testing.T) {
	t.Run("sends ping body", func(t *testing.T) {
		var got Ping
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "/api/load/3/ping", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			writeJSON(w, `{"status":"success","data":{}}`)
		})

		c.Identify(context.Background(), 3, Ping{TimeMs: 5000, BlinkPattern: "ramp", Color: "#505050"})
		assert.Equal(t, Ping{TimeMs: 5000, BlinkPattern: "ramp", Color: "#505050"}, got)
	})

	t.Run("failure is swallowed", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		assert.NotPanics(t, func() {
			c.Identify(context.Background(), 3, Ping{TimeMs: 1000})
		})
		assert.Error(t, c.Ping(context.Background(), 3, Ping{TimeMs: 1000}))
	})
}
