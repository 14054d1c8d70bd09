package http2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlowWindowConsumeAndSize(t *testing.T) {
	w := newFlowWindow(65535)
	require.EqualValues(t, 65535, w.Size())

	require.NoError(t, w.Consume(1000))
	require.EqualValues(t, 65535-1000, w.Size())
}

func TestFlowWindowCanSend(t *testing.T) {
	w := newFlowWindow(100)
	require.True(t, w.CanSend(100))
	require.False(t, w.CanSend(101))

	require.NoError(t, w.Consume(50))
	require.True(t, w.CanSend(50))
	require.False(t, w.CanSend(51))
}

func TestFlowWindowIncreaseRejectsOverflow(t *testing.T) {
	w := newFlowWindow(MaxWindowSize)
	err := w.Increase(1)
	require.Error(t, err)

	ce, ok := err.(*ConnError)
	require.True(t, ok)
	require.Equal(t, FlowControlError, ce.Code)
}

func TestFlowWindowIncreaseRestoresAfterConsume(t *testing.T) {
	w := newFlowWindow(1000)
	require.NoError(t, w.Consume(900))
	require.EqualValues(t, 100, w.Size())

	require.NoError(t, w.Increase(900))
	require.EqualValues(t, 1000, w.Size())
}

func TestFlowWindowApplyInitialWindowDeltaCanGoNegative(t *testing.T) {
	w := newFlowWindow(1000)
	require.NoError(t, w.Consume(900)) // size = 100

	// peer shrinks SETTINGS_INITIAL_WINDOW_SIZE by 500: delta = -500
	require.NoError(t, w.ApplyInitialWindowDelta(-500))
	require.EqualValues(t, -400, w.Size(), "a shrink below zero is legal per RFC 7540 §6.9.2")

	require.False(t, w.CanSend(1), "a negative window must refuse every send until replenished")
}

func TestFlowWindowApplyInitialWindowDeltaRejectsOverflow(t *testing.T) {
	w := newFlowWindow(MaxWindowSize - 10)
	err := w.ApplyInitialWindowDelta(20)
	require.Error(t, err)

	ce, ok := err.(*ConnError)
	require.True(t, ok)
	require.Equal(t, FlowControlError, ce.Code)
}

func TestFlowWindowNextUpdateWithholdsUntilThreshold(t *testing.T) {
	w := newFlowWindow(1000)

	// still well above threshold: no update due.
	require.NoError(t, w.Consume(100))
	require.Zero(t, w.NextUpdate(0))

	// drop low enough: an update tops the window back up.
	require.NoError(t, w.Consume(500))
	inc := w.NextUpdate(0)
	require.NotZero(t, inc)
	require.EqualValues(t, 1000, w.Size(), "NextUpdate must top the window back up to initial")
}

func TestFlowWindowNextUpdateBurstLowersThreshold(t *testing.T) {
	w := newFlowWindow(1000)
	require.NoError(t, w.Consume(600)) // size = 400, below the 50% base threshold but above the 25% burst one

	// a burst rate above the initial window shifts the threshold down to 25%,
	// so no update fires yet even though it would under the base fraction.
	require.Zero(t, w.NextUpdate(2000))
}

func TestFlowWindowNextUpdateSteadyRateRaisesThreshold(t *testing.T) {
	w := newFlowWindow(1000)
	require.NoError(t, w.Consume(300)) // size = 700, below the 75% steady threshold

	inc := w.NextUpdate(1) // rate well below initial/4 selects the steady fraction
	require.NotZero(t, inc, "a slow, steady consumer should get topped up earlier, at 75%")
	require.EqualValues(t, 1000, w.Size())
}

func TestFlowWindowTakeUpToCapsAtSizeAndMax(t *testing.T) {
	w := newFlowWindow(10)

	require.EqualValues(t, 4, w.TakeUpTo(4))
	require.EqualValues(t, 6, w.Size())

	require.EqualValues(t, 6, w.TakeUpTo(100), "TakeUpTo must cap at the remaining size, not just max")
	require.EqualValues(t, 0, w.Size())

	require.EqualValues(t, 0, w.TakeUpTo(1), "an exhausted window must grant nothing")
}

func TestFlowWindowRefundRestoresAndWakesWaiters(t *testing.T) {
	w := newFlowWindow(0)
	require.EqualValues(t, 0, w.TakeUpTo(10))

	ready := w.Notify()
	w.Refund(5)

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("Refund must wake anyone blocked on Notify")
	}
	require.EqualValues(t, 5, w.Size())
}

func TestFlowWindowIncreaseWakesBlockedSender(t *testing.T) {
	w := newFlowWindow(0)

	ready := w.Notify()
	done := make(chan struct{})
	go func() {
		<-ready
		close(done)
	}()

	require.NoError(t, w.Increase(10))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Increase must broadcast on ready so a blocked sender wakes")
	}
}
