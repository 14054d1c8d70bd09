package http2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerPoolSubmitRunsJobAndRefusesWhenFull(t *testing.T) {
	p := newWorkerPool(1, 1)
	defer p.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.Submit(func() { close(started); <-block }))
	<-started

	// the single worker is now blocked draining the first job, and the
	// queue has room for exactly one more.
	require.True(t, p.Submit(func() {}))
	require.False(t, p.Submit(func() {}), "a full queue must refuse rather than block the caller")

	close(block)
}

func TestWorkerPoolCloseWaitsForInFlightJobs(t *testing.T) {
	p := newWorkerPool(2, 2)

	done := make(chan struct{})
	p.Submit(func() {
		time.Sleep(10 * time.Millisecond)
		close(done)
	})

	p.Close()

	select {
	case <-done:
	default:
		t.Fatal("Close must wait for the submitted job to finish")
	}
}

func TestWatermarkAddReportsPauseAtHighMark(t *testing.T) {
	w := newWatermark(100, 50)

	require.False(t, w.Add(40))
	require.True(t, w.Add(60), "crossing the high watermark must report pause")
	require.False(t, w.Add(1), "already paused, Add must not report pause again")
}

func TestWatermarkDoneResumesAtLowMark(t *testing.T) {
	w := newWatermark(100, 50)
	require.True(t, w.Add(100))

	ready := w.Wait()
	select {
	case <-ready:
		t.Fatal("Wait must block while paused")
	default:
	}

	w.Done(60) // cur = 40, below low watermark
	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("Done must unpause and close the channel Wait returned")
	}
}

func TestWatermarkWaitReturnsClosedChannelWhenNotPaused(t *testing.T) {
	w := newWatermark(100, 50)

	select {
	case <-w.Wait():
	default:
		t.Fatal("Wait must return an already-closed channel when not paused")
	}
}
