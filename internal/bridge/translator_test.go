package bridge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/wiserd/internal/capability"
	"github.com/dokzlo13/wiserd/internal/wiser"
)

func bind(t *testing.T, ctrl *fakeController, load *wiser.Load) *Binding {
	t.Helper()
	arch := Classify(load.Type)
	dev, err := NewBuilder(0xFFF1, "Feller AG").Build(arch, load, testDevice(), 0)
	require.NoError(t, err)
	return NewTranslator(ctrl, "ramp", "#505050").Bind(arch, dev, load, "00004d1a", 0)
}

func TestTranslator_OnUsesConfirmedState(t *testing.T) {
	ctrl := &fakeController{confirm: func(int) int { return 128 }}
	b := bind(t, ctrl, dimLoad(4, "Ceiling", 0))

	require.NoError(t, b.Device.Handle(context.Background(), capability.CommandOn, capability.Request{}))

	assert.True(t, b.Device.OnOff().On())
	assert.Equal(t, uint8(128), b.Device.LevelControl().Current())
	assert.Equal(t, 254, ctrl.lastBri())
}

func TestTranslator_OnRestoresLastLevel(t *testing.T) {
	ctrl := &fakeController{}
	b := bind(t, ctrl, dimLoad(4, "Ceiling", 90))

	require.NoError(t, b.Device.Handle(context.Background(), capability.CommandOff, capability.Request{}))
	assert.Equal(t, 0, ctrl.lastBri())
	assert.False(t, b.Device.OnOff().On())
	assert.Equal(t, uint8(90), b.Device.LevelControl().Current())

	require.NoError(t, b.Device.Handle(context.Background(), capability.CommandOn, capability.Request{}))
	assert.Equal(t, 90, ctrl.lastBri())
	assert.True(t, b.Device.OnOff().On())
}

func TestTranslator_OffFollowsController(t *testing.T) {
	// Controller refuses to switch off
	ctrl := &fakeController{confirm: func(int) int { return 40 }}
	b := bind(t, ctrl, onOffLoad(1, "Socket", 40))

	require.NoError(t, b.Device.Handle(context.Background(), capability.CommandOff, capability.Request{}))
	assert.True(t, b.Device.OnOff().On())
}

func TestTranslator_Toggle(t *testing.T) {
	ctrl := &fakeController{}
	b := bind(t, ctrl, onOffLoad(1, "Socket", 0))

	require.NoError(t, b.Device.Handle(context.Background(), capability.CommandToggle, capability.Request{}))
	assert.True(t, b.Device.OnOff().On())

	require.NoError(t, b.Device.Handle(context.Background(), capability.CommandToggle, capability.Request{}))
	assert.False(t, b.Device.OnOff().On())
	assert.Equal(t, 0, ctrl.lastBri())
}

func TestTranslator_MoveToLevel(t *testing.T) {
	t.Run("level follows confirmed bri", func(t *testing.T) {
		ctrl := &fakeController{confirm: func(bri int) int { return bri - 1 }}
		b := bind(t, ctrl, dimLoad(4, "Ceiling", 0))

		require.NoError(t, b.Device.Handle(context.Background(), capability.CommandMoveToLevel, capability.Request{Level: 100}))
		assert.Equal(t, 100, ctrl.lastBri())
		assert.Equal(t, uint8(99), b.Device.LevelControl().Current())
		assert.False(t, b.Device.OnOff().On())
	})

	t.Run("confirmed zero is written to level only", func(t *testing.T) {
		ctrl := &fakeController{confirm: func(int) int { return 0 }}
		b := bind(t, ctrl, dimLoad(4, "Ceiling", 180))
		require.True(t, b.Device.OnOff().On())

		require.NoError(t, b.Device.Handle(context.Background(), capability.CommandMoveToLevel, capability.Request{Level: 0}))
		assert.Equal(t, uint8(0), b.Device.LevelControl().Current())
		assert.True(t, b.Device.OnOff().On())
	})

	t.Run("with on off also switches", func(t *testing.T) {
		ctrl := &fakeController{}
		b := bind(t, ctrl, dimLoad(4, "Ceiling", 0))

		require.NoError(t, b.Device.Handle(context.Background(), capability.CommandMoveToLevelWithOnOff, capability.Request{Level: 60}))
		assert.Equal(t, uint8(60), b.Device.LevelControl().Current())
		assert.True(t, b.Device.OnOff().On())
	})

	t.Run("not offered for simple loads", func(t *testing.T) {
		b := bind(t, &fakeController{}, onOffLoad(1, "Socket", 0))
		err := b.Device.Handle(context.Background(), capability.CommandMoveToLevel, capability.Request{Level: 60})
		assert.ErrorIs(t, err, capability.ErrUnknownCommand)
	})
}

func TestTranslator_FailureLeavesAttributes(t *testing.T) {
	ctrl := &fakeController{err: errors.New("unreachable")}
	b := bind(t, ctrl, dimLoad(4, "Ceiling", 30))

	err := b.Device.Handle(context.Background(), capability.CommandOff, capability.Request{})
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.True(t, b.Device.OnOff().On())
	assert.Equal(t, uint8(30), b.Device.LevelControl().Current())
}

func TestTranslator_ColorIsLocal(t *testing.T) {
	ctrl := &fakeController{}
	b := bind(t, ctrl, daliLoad(2, "Desk", 10))

	require.NoError(t, b.Device.Handle(context.Background(), capability.CommandMoveToHueAndSaturation, capability.Request{Hue: 30, Saturation: 200}))
	require.NoError(t, b.Device.Handle(context.Background(), capability.CommandMoveToColorTemperature, capability.Request{ColorTemperatureMireds: 370}))

	color := b.Device.ColorControl()
	assert.Equal(t, uint8(30), color.Hue())
	assert.Equal(t, uint8(200), color.Saturation())
	assert.Equal(t, uint16(370), color.ColorTemperatureMireds())
	assert.Empty(t, ctrl.requests)
}

func TestTranslator_CoverIsLocal(t *testing.T) {
	ctrl := &fakeController{}
	b := bind(t, ctrl, motorLoad(3, "Blind", 1000, false))
	cover := b.Device.WindowCovering()

	require.NoError(t, b.Device.Handle(context.Background(), capability.CommandGoToLiftPercentage, capability.Request{LiftPercent100ths: 6500}))
	assert.Equal(t, uint16(6500), cover.CurrentLift())
	assert.Equal(t, uint16(6500), cover.TargetLift())
	assert.Empty(t, ctrl.requests)
}

func TestTranslator_StopMotionHoldsCurrentLift(t *testing.T) {
	for _, lift := range []uint16{0, 1, 5000, 10000} {
		t.Run(fmt.Sprintf("lift %d", lift), func(t *testing.T) {
			ctrl := &fakeController{}
			b := bind(t, ctrl, motorLoad(3, "Blind", 1000, false))
			cover := b.Device.WindowCovering()

			cover.SetCurrentLift(lift)
			cover.SetTargetLift(9000)
			cover.SetStatus(capability.OperationalStatus{Global: capability.Closing, Lift: capability.Closing})

			require.NoError(t, b.Device.Handle(context.Background(), capability.CommandStopMotion, capability.Request{}))
			assert.Equal(t, lift, cover.CurrentLift())
			assert.Equal(t, lift, cover.TargetLift())
			assert.Equal(t, capability.AllStopped, cover.Status())
			assert.Empty(t, ctrl.requests)
		})
	}
}

func TestTranslator_Identify(t *testing.T) {
	ctrl := &fakeController{}
	b := bind(t, ctrl, onOffLoad(1, "Socket", 0))
	t.Cleanup(b.Device.Close)

	require.NoError(t, b.Device.Handle(context.Background(), capability.CommandIdentify, capability.Request{IdentifyTime: 5}))
	assert.Equal(t, uint16(5), b.Device.Identify().Remaining())

	require.Eventually(t, func() bool { return len(ctrl.sentPings()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, wiser.Ping{TimeMs: 5000, BlinkPattern: "ramp", Color: "#505050"}, ctrl.sentPings()[0])
}

func TestTranslator_IdentifyDoesNotWaitForController(t *testing.T) {
	ctrl := &fakeController{pingGate: make(chan struct{})}
	b := bind(t, ctrl, onOffLoad(1, "Socket", 0))
	t.Cleanup(b.Device.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Device.Handle(ctx, capability.CommandIdentify, capability.Request{IdentifyTime: 3}) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("identify blocked on the controller")
	}

	// cancelling the dispatch context must not abort the ping
	cancel()
	assert.Empty(t, ctrl.sentPings())
	close(ctrl.pingGate)
	require.Eventually(t, func() bool { return len(ctrl.sentPings()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestBinding_Apply(t *testing.T) {
	t.Run("brightness", func(t *testing.T) {
		b := bind(t, &fakeController{}, dimLoad(4, "Ceiling", 0))

		require.NoError(t, b.Apply(wiser.BrightnessState(200)))
		assert.True(t, b.Device.OnOff().On())
		assert.Equal(t, uint8(200), b.Device.LevelControl().Current())

		require.NoError(t, b.Apply(wiser.BrightnessState(0)))
		assert.False(t, b.Device.OnOff().On())
		assert.Equal(t, uint8(200), b.Device.LevelControl().Current())
	})

	t.Run("motion", func(t *testing.T) {
		b := bind(t, &fakeController{}, motorLoad(3, "Blind", 1000, false))
		cover := b.Device.WindowCovering()

		require.NoError(t, b.Apply(wiser.MotionState(wiser.Motion{Pos: 3000, Running: true})))
		assert.Equal(t, uint16(3000), cover.CurrentLift())
		assert.Equal(t, capability.Closing, cover.Status().Lift)

		require.NoError(t, b.Apply(wiser.MotionState(wiser.Motion{Pos: 2000, Running: true})))
		assert.Equal(t, capability.Opening, cover.Status().Lift)

		require.NoError(t, b.Apply(wiser.MotionState(wiser.Motion{Pos: 2500})))
		assert.Equal(t, uint16(2500), cover.TargetLift())
		assert.Equal(t, capability.AllStopped, cover.Status())
	})

	t.Run("mismatch", func(t *testing.T) {
		b := bind(t, &fakeController{}, motorLoad(3, "Blind", 1000, false))
		assert.ErrorIs(t, b.Apply(wiser.BrightnessState(1)), ErrStateMismatch)
	})
}
