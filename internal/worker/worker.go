package worker

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"modelhub-worker/internal/config"
	"modelhub-worker/internal/dispatch"
	"modelhub-worker/internal/hashcache"
	"modelhub-worker/internal/inventory"
	"modelhub-worker/internal/link"
	"modelhub-worker/internal/monitor"
	"modelhub-worker/internal/pathresolver"
	"modelhub-worker/internal/processor"
	"modelhub-worker/internal/sidecar"
	"modelhub-worker/internal/transport"
	"modelhub-worker/pkg/models"
)

// rescanInterval is how often the full inventory scan runs while the
// worker is enabled.
const rescanInterval = time.Hour

// Worker wires the long-running loops together: the connection loop,
// the dispatch loop, and the hourly inventory rescan.
type Worker struct {
	cfg      *config.Store
	registry *pathresolver.DirRegistry
	cache    *hashcache.Cache
	queue    *dispatch.Queue
	gate     *dispatch.Gate
	mon      *monitor.SystemMonitor

	link       *link.Manager
	transport  *transport.Transport
	reporter   *inventory.Reporter
	processor  *processor.Processor
	dispatcher *dispatch.Dispatcher

	rescan chan struct{}
}

func New(cfg *config.Config) *Worker {
	w := &Worker{
		cfg:      config.NewStore(cfg),
		registry: pathresolver.NewDirRegistry(cfg.ModelsDir),
		cache:    hashcache.New(cfg.CacheFile),
		queue:    dispatch.NewQueue(),
		gate:     dispatch.NewGate(cfg.Enabled),
		mon:      monitor.New(),
		rescan:   make(chan struct{}, 1),
	}

	w.link = link.NewManager(w.cfg, w)
	w.transport = transport.New(w.cfg, w.link)
	w.reporter = inventory.New(w.transport)
	w.processor = processor.New(w.cfg, pathresolver.New(w.registry), w.registry,
		w.cache, w.reporter, w.transport, sidecar.New(cfg.SavePreviewSidecars), w.mon)
	w.dispatcher = dispatch.NewDispatcher(w.queue, w.gate, w.processor, w.processor)
	return w
}

// Run starts the three loops and blocks until ctx is cancelled and all
// of them have exited. Shutdown is cooperative: cancellation releases
// the queue wait, opens the gate waits, and closes the channel.
func (w *Worker) Run(ctx context.Context) {
	w.cleanupLeftovers()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		w.link.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		w.dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		w.rescanLoop(ctx)
	}()
	wg.Wait()
}

// Apply installs updated settings. A credential or endpoint change
// forces the channel closed so the link reconnects with fresh state.
func (w *Worker) Apply(cfg *config.Config) {
	rotated := w.cfg.Set(cfg)
	w.gate.Set(cfg.Enabled)
	if rotated {
		log.Printf("[Worker] Credentials rotated, forcing reconnect")
		w.link.MarkDirty()
	}
}

// ===== link.Handler =====

// HandleJob is called from the link's receive loop; it must not block.
func (w *Worker) HandleJob(job models.Job) {
	w.queue.Enqueue(job)
}

// OnOpen announces worker state and prompts job redelivery on every
// successful connect. A reconnect also invalidates the last-reported
// inventory since the hub's view may be stale.
func (w *Worker) OnOpen() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := w.cfg.Get()
	stats, err := w.mon.Stats(ctx, cfg.ModelsDir)
	if err != nil {
		log.Printf("[Worker] Hardware stats unavailable: %v", err)
	}
	if _, err := w.transport.Send(ctx, models.NewWorkerState(w.gate.Enabled(), stats)); err != nil {
		log.Printf("[Worker] State announcement failed: %v", err)
	}
	w.processor.Poll(ctx)
	w.reporter.Invalidate()
	w.requestRescan()
}

// HandleControl answers remote-initiated commands inline.
func (w *Worker) HandleControl(env *models.Envelope) *models.ControlAck {
	ack := models.NewControlAck(env.Command, env.RequestID, true)

	switch env.Command {
	case "enable":
		w.gate.Set(true)
	case "disable":
		w.gate.Set(false)
	case "list_folders":
		ack.Data = w.listFolders()
	case "rescan":
		w.requestRescan()
	default:
		ack.OK = false
		ack.Error = "unknown command"
	}
	return ack
}

type folderInfo struct {
	Path      string `json:"path"`
	FileCount int    `json:"fileCount"`
}

func (w *Worker) listFolders() map[string]folderInfo {
	folders := make(map[string]folderInfo)
	for category, root := range w.registry.Roots() {
		count := 0
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err == nil && !d.IsDir() && w.registry.IsModelFile(d.Name()) {
				count++
			}
			return nil
		})
		folders[category] = folderInfo{Path: root, FileCount: count}
	}
	return folders
}

func (w *Worker) requestRescan() {
	select {
	case w.rescan <- struct{}{}:
	default:
	}
}

// rescanLoop keeps the inventory current: hourly, on demand, and only
// while the worker is enabled.
func (w *Worker) rescanLoop(ctx context.Context) {
	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		w.gate.Wait(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.rescan:
		}
		w.runScan(ctx)
	}
}

func (w *Worker) runScan(ctx context.Context) {
	hashes, err := w.cache.Scan(ctx, w.registry.Roots(), w.registry.IsModelFile)
	if err != nil {
		log.Printf("[Worker] Inventory scan failed: %v", err)
		return
	}
	if _, err := w.reporter.Push(ctx, hashes); err != nil {
		log.Printf("[Worker] Inventory push failed: %v", err)
	}
}

// cleanupLeftovers removes stale .part temp files from a previous run.
// Best effort; a leftover temp never blocks startup.
func (w *Worker) cleanupLeftovers() {
	for _, root := range w.registry.Roots() {
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".part") {
				return nil
			}
			if rmErr := os.Remove(path); rmErr != nil {
				log.Printf("[Worker] Failed to remove leftover temp %s: %v", path, rmErr)
			} else {
				log.Printf("[Worker] Removed leftover temp %s", path)
			}
			return nil
		})
	}
}
