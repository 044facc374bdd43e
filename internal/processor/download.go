package processor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const partSuffix = ".part"

// downloadChunk is the streaming buffer size. Artifacts are multi-GB;
// large chunks keep syscall overhead down.
const downloadChunk = 1 << 20

// Progress report throttling: always emit 0% and 100%; intermediates
// need both a 2-point step and 1.5s elapsed, which bounds message
// volume on fast links without starving slow ones.
const (
	progressMinStep     = 2.0
	progressMinInterval = 1500 * time.Millisecond
)

// progressThrottle gates intermediate percentage reports.
type progressThrottle struct {
	lastPct float64
	lastAt  time.Time
	emit    func(pct float64)
}

func newProgressThrottle(emit func(pct float64)) *progressThrottle {
	return &progressThrottle{emit: emit}
}

func (t *progressThrottle) report(pct float64) {
	now := time.Now()
	boundary := pct <= 0 || pct >= 100
	if !boundary {
		if pct-t.lastPct < progressMinStep || now.Sub(t.lastAt) < progressMinInterval {
			return
		}
	}
	t.lastPct = pct
	t.lastAt = now
	t.emit(pct)
}

// countingWriter forwards writes and reports fractional completion.
type countingWriter struct {
	w        io.Writer
	written  int64
	total    int64
	progress func(frac float64)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.written += int64(n)
	if c.total > 0 && c.progress != nil {
		c.progress(float64(c.written) / float64(c.total))
	}
	return n, err
}

// downloadTo streams the artifact into dest (the .part temp file).
// The request deliberately carries no timeout: large artifacts may
// legitimately take a long time, and liveness is assured by the poll
// mechanism rather than a request deadline. Cancellation still applies
// through ctx.
func (p *Processor) downloadTo(ctx context.Context, fetchURL, dest string, progress func(frac float64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return fmt.Errorf("invalid download request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cw := &countingWriter{w: f, total: resp.ContentLength, progress: progress}
	buf := make([]byte, downloadChunk)
	_, copyErr := io.CopyBuffer(cw, resp.Body, buf)
	closeErr := f.Close()

	if copyErr != nil {
		return fmt.Errorf("download stream failed: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("flush temp file: %w", closeErr)
	}
	return nil
}
