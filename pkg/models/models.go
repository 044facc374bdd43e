package models

import "encoding/json"

// Job states reported back to the hub in progress messages.
const (
	StateDownloading = "DOWNLOADING"
	StateDone        = "DONE"
	StateError       = "ERROR"
)

// Envelope is the frame for every inbound message on the link.
// The hub sends jobs and control commands over the same socket,
// so we route on Type first and decode Data lazily.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Command   string          `json:"command,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Job is one download assignment from the hub.
type Job struct {
	ID         int64      `json:"id"`
	TargetPath string     `json:"targetPath"`
	Version    JobVersion `json:"version"`
}

// JobVersion carries the artifact source and its expected integrity hash.
// The hub sends either an absolute external URL or a storage-relative path.
type JobVersion struct {
	ExternalDownloadURL string          `json:"externalDownloadUrl,omitempty"`
	FilePath            string          `json:"filePath,omitempty"`
	SHA256              string          `json:"sha256,omitempty"`
	Meta                json.RawMessage `json:"meta,omitempty"`
}

// DownloadSource returns the locator to fetch, preferring the external URL.
func (v *JobVersion) DownloadSource() string {
	if v.ExternalDownloadURL != "" {
		return v.ExternalDownloadURL
	}
	return v.FilePath
}

// ===== Outbound payloads =====

// WorkerState announces whether the worker is accepting jobs.
// Hardware stats ride along so the hub can display worker health;
// the hub is free to ignore them.
type WorkerState struct {
	Type    string         `json:"type"`
	Running bool           `json:"running"`
	Stats   *HardwareStats `json:"hardware,omitempty"`
}

func NewWorkerState(running bool, stats *HardwareStats) *WorkerState {
	return &WorkerState{Type: "worker_state", Running: running, Stats: stats}
}

type HardwareStats struct {
	CPUPercent float64 `json:"cpu_usage_percent"`
	RAMPercent float64 `json:"ram_usage_percent"`
	DiskFreeGB float64 `json:"disk_free_gb"`
}

// Poll asks the hub to redeliver any jobs queued for this worker.
type Poll struct {
	Type string `json:"type"`
}

func NewPoll() *Poll { return &Poll{Type: "poll"} }

// Progress reports the state of one job. Progress is a percentage
// (0-100); nil fields are omitted on the wire.
type Progress struct {
	Type     string   `json:"type"`
	JobID    int64    `json:"jobId"`
	Progress *float64 `json:"progress,omitempty"`
	State    string   `json:"state,omitempty"`
	Message  string   `json:"message,omitempty"`
}

func NewProgress(jobID int64, pct *float64, state, message string) *Progress {
	return &Progress{Type: "progress", JobID: jobID, Progress: pct, State: state, Message: message}
}

// Inventory is the full set of content hashes installed locally.
type Inventory struct {
	Type   string   `json:"type"`
	Hashes []string `json:"hashes"`
}

func NewInventory(hashes []string) *Inventory {
	return &Inventory{Type: "inventory", Hashes: hashes}
}

// ControlAck answers an inbound control command, correlated by RequestID.
type ControlAck struct {
	Type      string      `json:"type"`
	Command   string      `json:"command"`
	RequestID string      `json:"requestId"`
	OK        bool        `json:"ok"`
	Error     string      `json:"error,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func NewControlAck(command, requestID string, ok bool) *ControlAck {
	return &ControlAck{Type: "control_ack", Command: command, RequestID: requestID, OK: ok}
}
