package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/haiha210/screenshot-service-be/internal/models"
)

// ErrEngine marks a browser engine that could not be (re)launched. The
// runtime treats it as fatal for the process.
var ErrEngine = errors.New("browser engine unavailable")

// ErrRenderFailed marks a page-level failure (viewport, navigation, capture).
var ErrRenderFailed = errors.New("render failed")

// Request describes one capture.
type Request struct {
	URL      string
	Width    int
	Height   int
	Format   string
	Quality  int
	FullPage bool
}

// Renderer turns a request into image bytes.
type Renderer interface {
	Render(ctx context.Context, req Request) ([]byte, error)
	Close()
}

const (
	launchRetries = 3
	probeTimeout  = 3 * time.Second
	settleWait    = 2 * time.Second

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
)

// Chrome drives a single long-lived browser shared by all concurrent
// renders. Each render opens its own tab; the mutex guards only the
// probe/relaunch of the shared engine.
type Chrome struct {
	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browser       context.Context
	browserCancel context.CancelFunc
	timeout       time.Duration
	log           zerolog.Logger
}

// NewChrome launches the engine, retrying per launch policy. A final launch
// failure is returned wrapped in ErrEngine; main treats it as fatal.
func NewChrome(timeout time.Duration, log zerolog.Logger) (*Chrome, error) {
	c := &Chrome{timeout: timeout, log: log}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.launch(); err != nil {
		return nil, err
	}
	return c, nil
}

// launch starts the browser, retrying up to launchRetries times with 2s/4s/6s
// backoff before each retry. Callers hold c.mu.
func (c *Chrome) launch() error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
	)
	var lastErr error
	for retry := 0; retry <= launchRetries; retry++ {
		if retry > 0 {
			time.Sleep(time.Duration(retry) * 2 * time.Second)
		}
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browser, browserCancel := chromedp.NewContext(allocCtx)
		lastErr = chromedp.Run(browser)
		if lastErr == nil {
			c.allocCancel = allocCancel
			c.browser, c.browserCancel = browser, browserCancel
			return nil
		}
		browserCancel()
		allocCancel()
		c.log.Warn().Err(lastErr).Int("attempt", retry+1).Msg("browser launch failed")
	}
	return fmt.Errorf("%w: launch failed after %d retries: %v", ErrEngine, launchRetries, lastErr)
}

// engine returns a live browser context, probing the current one with a
// cheap target listing and relaunching if the probe fails.
func (c *Chrome) engine() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		probeCtx, cancel := context.WithTimeout(c.browser, probeTimeout)
		err := chromedp.Run(probeCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := target.GetTargets().Do(ctx)
			return err
		}))
		cancel()
		if err == nil {
			return c.browser, nil
		}
		c.log.Warn().Err(err).Msg("browser probe failed, relaunching")
		c.teardown()
	}
	if err := c.launch(); err != nil {
		return nil, err
	}
	return c.browser, nil
}

func (c *Chrome) Render(ctx context.Context, req Request) ([]byte, error) {
	browser, err := c.engine()
	if err != nil {
		return nil, err
	}

	// fresh tab per render; the deferred cancel closes it on every path
	tab, closeTab := chromedp.NewContext(browser)
	defer closeTab()
	runCtx, cancel := context.WithTimeout(tab, c.timeout)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelOuter context.CancelFunc
		runCtx, cancelOuter = context.WithDeadline(runCtx, deadline)
		defer cancelOuter()
	}

	var buf []byte
	err = chromedp.Run(runCtx,
		chromedp.EmulateViewport(int64(req.Width), int64(req.Height)),
		emulation.SetUserAgentOverride(userAgent),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		waitDocumentComplete(),
		chromedp.Sleep(settleWait),
		capture(&buf, req),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRenderFailed, req.URL, err)
	}
	return buf, nil
}

func (c *Chrome) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardown()
}

// teardown destroys the engine handle. Callers hold c.mu.
func (c *Chrome) teardown() {
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	c.browser, c.browserCancel = nil, nil
	c.allocCancel = nil
}

// waitDocumentComplete polls document.readyState every 250ms until it reports
// complete. After 40 polls (about 10 s) it stops waiting and returns nil.
func waitDocumentComplete() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for i := 0; i < 40; i++ {
			var ready string
			if err := chromedp.Evaluate(`document.readyState`, &ready).Do(ctx); err != nil {
				return err
			}
			if ready == "complete" {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(250 * time.Millisecond):
			}
		}
		return nil
	})
}

func capture(buf *[]byte, req Request) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		p := page.CaptureScreenshot().WithFromSurface(true)
		if req.Format == models.FormatJPEG {
			p = p.WithFormat(page.CaptureScreenshotFormatJpeg).WithQuality(int64(req.Quality))
		} else {
			p = p.WithFormat(page.CaptureScreenshotFormatPng)
		}
		if req.FullPage {
			_, _, contentSize, _, _, cssContentSize, err := page.GetLayoutMetrics().Do(ctx)
			if err != nil {
				return err
			}
			size := cssContentSize
			if size == nil {
				size = contentSize
			}
			if size != nil {
				p = p.WithCaptureBeyondViewport(true).WithClip(&page.Viewport{
					X:      0,
					Y:      0,
					Width:  size.Width,
					Height: size.Height,
					Scale:  1,
				})
			}
		}
		b, err := p.Do(ctx)
		if err != nil {
			return err
		}
		*buf = b
		return nil
	})
}
