// Package capture takes PNG snapshots of the overview page with a headless
// Chromium, for wall displays and chat previews that cannot run the UI.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"crewcal/internal/fsutil"
	appLog "crewcal/internal/log"
)

const (
	DefaultWidth   = 1600
	DefaultHeight  = 900
	DefaultTimeout = 30 * time.Second
)

// readySelector matches the element the overview page marks once its grid
// has been laid out.
const readySelector = `[data-ready="true"]`

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/overview".
	URL string
	// OutputPath is where the PNG is written (atomically).
	OutputPath string

	// Width and Height are the viewport dimensions in pixels.
	Width  int
	Height int

	// Timeout bounds the entire capture operation.
	Timeout time.Duration
}

func (o Options) withDefaults() (Options, error) {
	if o.URL == "" {
		return o, fmt.Errorf("capture: URL is required")
	}
	if o.OutputPath == "" {
		return o, fmt.Errorf("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o, nil
}

// OverviewPNG navigates to opts.URL, waits for the grid to signal
// data-ready and writes a full-page screenshot to opts.OutputPath.
func OverviewPNG(parentCtx context.Context, opts Options) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		// Small extra delay to allow final paints.
		chromedp.Sleep(300 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	}

	start := time.Now()
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := fsutil.WriteFileAtomic(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}

	appLog.Info("capture: overview snapshot written",
		"path", opts.OutputPath,
		"bytes", len(png),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
