package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/oxplot/isowriter/transfer"
)

const progressMax = 1000

// notifyInterrupt is replaced in tests.
var notifyInterrupt = func() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// watch polls status until the running transfer ends, rendering a progress
// bar on terminals and a log line per 10% otherwise. Ctrl+C cancels the
// transfer instead of killing the process mid-chunk.
func watch(e *transfer.Engine, status *transfer.Status, destination string) error {
	ctx, stop := notifyInterrupt()
	defer stop()

	isTTY := term.IsTerminal(int(os.Stderr.Fd()))
	var bar *progressbar.ProgressBar
	if isTTY {
		bar = progressbar.NewOptions(progressMax,
			progressbar.OptionSetDescription("Writing "+destination),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	lastDecile := -1
	interrupted := ctx.Done()

	var snap transfer.Snapshot
	for {
		select {
		case <-interrupted:
			fmt.Fprintln(os.Stderr, "\nCancelling after the current chunk ...")
			e.Cancel()
			// A second interrupt kills the process if the device has stalled.
			stop()
			interrupted = nil
		case <-ticker.C:
		}

		snap = status.Snapshot()
		if bar != nil {
			if snap.Indeterminate {
				bar.Describe(fmt.Sprintf("Writing %s (%s)", destination, units.BytesSize(float64(snap.BytesWritten))))
			}
			_ = bar.Set(int(snap.Progress * progressMax))
		} else if d := int(snap.Progress * 10); d > lastDecile {
			log.Printf("%3d%% (%s)", d*10, units.BytesSize(float64(snap.BytesWritten)))
			lastDecile = d
		}
		if !snap.Running {
			break
		}
	}

	if bar != nil {
		if snap.State == transfer.Completed {
			_ = bar.Finish()
		}
		fmt.Fprintln(os.Stderr)
	}

	res := e.Wait()
	switch {
	case res.State == transfer.Completed:
		fmt.Printf("Done! Wrote %s to %s\n", units.BytesSize(float64(res.BytesWritten)), destination)
		return nil
	case errors.Is(res.Err, transfer.ErrCancelled):
		fmt.Printf("Stopped. %s was partially written (%s) and should be rewritten before use.\n",
			destination, units.BytesSize(float64(res.BytesWritten)))
		return nil
	}
	return res.Err
}
