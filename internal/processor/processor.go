package processor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"modelhub-worker/internal/config"
	"modelhub-worker/internal/hashcache"
	"modelhub-worker/internal/inventory"
	"modelhub-worker/internal/pathresolver"
	"modelhub-worker/internal/sidecar"
	"modelhub-worker/pkg/models"
)

// Sender is the outbound delivery capability (transport.Transport).
type Sender interface {
	Send(ctx context.Context, msg interface{}) (bool, error)
}

// SpaceChecker reports free disk space for the install directory
// (monitor.SystemMonitor).
type SpaceChecker interface {
	FreeSpaceGB(path string) (float64, error)
}

// Processor executes one job at a time: resolve, download with retry,
// verify, install atomically, then refresh the inventory.
type Processor struct {
	cfg      *config.Store
	resolver *pathresolver.Resolver
	registry pathresolver.Registry
	cache    *hashcache.Cache
	reporter *inventory.Reporter
	sender   Sender
	sidecars *sidecar.Generator
	space    SpaceChecker

	// No client timeout: downloads are bounded by ctx and the per-job
	// retry budget, not a wall-clock deadline (see downloadTo).
	httpClient *http.Client
}

func New(cfg *config.Store, resolver *pathresolver.Resolver, registry pathresolver.Registry,
	cache *hashcache.Cache, reporter *inventory.Reporter, sender Sender,
	sidecars *sidecar.Generator, space SpaceChecker) *Processor {
	return &Processor{
		cfg:        cfg,
		resolver:   resolver,
		registry:   registry,
		cache:      cache,
		reporter:   reporter,
		sender:     sender,
		sidecars:   sidecars,
		space:      space,
		httpClient: &http.Client{},
	}
}

// Process runs one job to its terminal report. Failures become a
// structured ERROR back to the hub; any partial temp file is cleaned
// up along the way.
func (p *Processor) Process(ctx context.Context, job models.Job) {
	if err := p.run(ctx, job); err != nil {
		log.Printf("[Processor] Job %d failed: %v", job.ID, err)
		p.report(ctx, job.ID, nil, models.StateError, err.Error())
	}
}

// Poll asks the hub for the next queued job.
func (p *Processor) Poll(ctx context.Context) {
	if _, err := p.sender.Send(ctx, models.NewPoll()); err != nil {
		log.Printf("[Processor] Poll failed: %v", err)
	}
}

func (p *Processor) run(ctx context.Context, job models.Job) error {
	cfg := p.cfg.Get()

	source := job.Version.DownloadSource()
	if source == "" {
		return errors.New("No download URL provided.")
	}

	fetchURL, err := resolveFetchURL(cfg.Endpoint, source)
	if err != nil {
		return err
	}
	name := installName(fetchURL)

	dir, err := p.resolver.Resolve(job.TargetPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}

	free, err := p.space.FreeSpaceGB(dir)
	if err != nil {
		return err
	}
	if free < cfg.MinFreeDiskGB {
		return fmt.Errorf("insufficient disk space: %.1f GB free, %.1f GB required", free, cfg.MinFreeDiskGB)
	}

	dest, err := uniqueFilename(dir, name)
	if err != nil {
		return err
	}
	tmp := dest + partSuffix

	p.report(ctx, job.ID, pct(0), models.StateDownloading, "")

	throttle := newProgressThrottle(func(v float64) {
		p.report(ctx, job.ID, pct(v), models.StateDownloading, "")
	})
	if err := p.fetchWithRetry(ctx, cfg, fetchURL.String(), tmp, throttle); err != nil {
		return err
	}

	sum := ""
	if expected := job.Version.SHA256; expected != "" {
		sum, err = hashcache.SumFile(tmp)
		if err != nil {
			os.Remove(tmp)
			return err
		}
		if !strings.EqualFold(sum, expected) {
			os.Remove(tmp)
			return errors.New("SHA-256 mismatch")
		}
	}

	// Rename only after full verification: no half-written or
	// unverified file is ever visible under the final name.
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("install %s: %w", dest, err)
	}
	log.Printf("[Processor] Installed %s", dest)

	if sum == "" {
		if sum, err = hashcache.SumFile(dest); err != nil {
			return err
		}
	}

	if len(job.Version.Meta) > 0 {
		if err := p.sidecars.Generate(ctx, dest, strings.ToLower(sum), job.Version.Meta); err != nil {
			return fmt.Errorf("sidecar generation failed: %w", err)
		}
	}

	if err := p.cache.Record(dest, sum); err != nil {
		log.Printf("[Processor] Failed to cache hash for %s: %v", dest, err)
	}
	p.syncInventory(ctx)

	p.report(ctx, job.ID, pct(100), models.StateDone, "")

	// Prompt immediate redelivery of the next queued job instead of
	// waiting for the idle window.
	p.Poll(ctx)
	return nil
}

// fetchWithRetry runs the download attempt loop: partial temp files are
// removed between attempts, and the jittered exponential backoff
// desynchronizes workers hammering the same failing mirror.
func (p *Processor) fetchWithRetry(ctx context.Context, cfg *config.Config, fetchURL, tmp string, throttle *progressThrottle) error {
	attempts := cfg.MaxDownloadAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = p.downloadTo(ctx, fetchURL, tmp, func(frac float64) {
			throttle.report(frac * 100)
		})
		if lastErr == nil {
			return nil
		}

		os.Remove(tmp)
		if ctx.Err() != nil || attempt == attempts-1 {
			break
		}

		delay := time.Duration((math.Pow(cfg.DownloadBackoffBase, float64(attempt)) + rand.Float64()) * float64(time.Second))
		log.Printf("[Processor] Download attempt %d/%d failed (retrying in %s): %v",
			attempt+1, attempts, delay.Round(time.Millisecond), lastErr)
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}
	return lastErr
}

// syncInventory recomputes the full hash set and pushes it if changed.
func (p *Processor) syncInventory(ctx context.Context) {
	hashes, err := p.cache.Scan(ctx, p.registry.Roots(), p.registry.IsModelFile)
	if err != nil {
		log.Printf("[Processor] Inventory rescan failed: %v", err)
		return
	}
	if _, err := p.reporter.Push(ctx, hashes); err != nil {
		log.Printf("[Processor] Inventory push failed: %v", err)
	}
}

func (p *Processor) report(ctx context.Context, jobID int64, pct *float64, state, message string) {
	if _, err := p.sender.Send(ctx, models.NewProgress(jobID, pct, state, message)); err != nil {
		log.Printf("[Processor] Progress report for job %d failed: %v", jobID, err)
	}
}

func pct(v float64) *float64 {
	rounded := math.Round(v*10) / 10
	return &rounded
}

// resolveFetchURL turns a job's download source into an absolute URL.
// Relative sources are storage paths the hub hands out; they resolve
// against the endpoint's scheme and host with any API path stripped.
func resolveFetchURL(endpoint, source string) (*url.URL, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid download URL %q: %w", source, err)
	}
	if u.IsAbs() {
		return u, nil
	}

	ep, err := url.Parse(endpoint)
	if err != nil || ep.Scheme == "" || ep.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q for relative download URL", endpoint)
	}
	u.Scheme = ep.Scheme
	u.Host = ep.Host
	if !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}
	return u, nil
}
