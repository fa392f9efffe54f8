package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/pkg/mirror"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultNamespace  = "oserv"
	subsystemTransfer = "transfer"
)

// TransferCollector counts what a mirror run moved and exposes the numbers
// as Prometheus collectors. It satisfies mirror.Observer.
//
// The registered *_total series only ever grow. Reset moves the baseline
// that Snapshot measures from.
type TransferCollector struct {
	mu        sync.RWMutex
	namespace string
	registry  *prometheus.Registry

	startTime time.Time
	lastEvent time.Time
	total     transferCounts
	base      transferCounts
}

type transferCounts struct {
	bytesUploaded  uint64
	bytesDownload  uint64
	filesUploaded  uint64
	filesDownload  uint64
	containers     uint64
	chunksAccepted uint64
	chunkBytes     uint64
	chunkRetries   uint64
	sessions       uint64
	failures       uint64
}

func (t transferCounts) since(base transferCounts) transferCounts {
	return transferCounts{
		bytesUploaded:  t.bytesUploaded - base.bytesUploaded,
		bytesDownload:  t.bytesDownload - base.bytesDownload,
		filesUploaded:  t.filesUploaded - base.filesUploaded,
		filesDownload:  t.filesDownload - base.filesDownload,
		containers:     t.containers - base.containers,
		chunksAccepted: t.chunksAccepted - base.chunksAccepted,
		chunkBytes:     t.chunkBytes - base.chunkBytes,
		chunkRetries:   t.chunkRetries - base.chunkRetries,
		sessions:       t.sessions - base.sessions,
		failures:       t.failures - base.failures,
	}
}

// TransferSnapshot is a point-in-time view of the collected counters.
type TransferSnapshot struct {
	Direction       string
	Elapsed         time.Duration
	BytesUploaded   uint64
	BytesDownloaded uint64
	FilesUploaded   uint64
	FilesDownloaded uint64
	Containers      uint64
	ChunksAccepted  uint64
	ChunkBytes      uint64
	ChunkRetries    uint64
	Sessions        uint64
	Failures        uint64
	UploadBps       float64
	DownloadBps     float64
	UploadMbps      float64
	DownloadMbps    float64
}

func NewTransferCollector(namespace string) *TransferCollector {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	tc := &TransferCollector{
		namespace: namespace,
		registry:  reg,
	}
	tc.registerMetrics()
	return tc
}

// Registry returns the prometheus registry managed by this collector.
func (c *TransferCollector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (c *TransferCollector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

// Reset starts a new snapshot window so one collector can serve many shell
// commands. Exported counters keep their totals.
func (c *TransferCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Time{}
	c.lastEvent = time.Time{}
	c.base = c.total
}

func (c *TransferCollector) ContainerCreated(backend.RemoteNode) {
	c.mu.Lock()
	c.touchLocked()
	c.total.containers++
	c.mu.Unlock()
}

func (c *TransferCollector) TransferStarted(string, int64, mirror.Direction) {
	c.mu.Lock()
	c.touchLocked()
	c.mu.Unlock()
}

func (c *TransferCollector) TransferProgress(string, int64, int64) {}

func (c *TransferCollector) TransferFinished(_ string, bytes int64, dir mirror.Direction, chunked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.touchLocked()
	n := uint64(0)
	if bytes > 0 {
		n = uint64(bytes)
	}
	switch dir {
	case mirror.Download:
		c.total.filesDownload++
		c.total.bytesDownload += n
	default:
		c.total.filesUploaded++
		c.total.bytesUploaded += n
	}
	if chunked {
		c.total.sessions++
	}
}

func (c *TransferCollector) ChunkAccepted(size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.touchLocked()
	c.total.chunksAccepted++
	if size > 0 {
		c.total.chunkBytes += uint64(size)
	}
}

func (c *TransferCollector) ChunkRetried() {
	c.mu.Lock()
	c.touchLocked()
	c.total.chunkRetries++
	c.mu.Unlock()
}

func (c *TransferCollector) Failed(mirror.Failure) {
	c.mu.Lock()
	c.touchLocked()
	c.total.failures++
	c.mu.Unlock()
}

func (c *TransferCollector) Snapshot() TransferSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buildSnapshotLocked()
}

func (c *TransferCollector) buildSnapshotLocked() TransferSnapshot {
	d := c.total.since(c.base)
	direction := "idle"
	switch {
	case d.bytesDownload > d.bytesUploaded || d.filesDownload > d.filesUploaded:
		direction = string(mirror.Download)
	case d.filesUploaded > 0 || d.containers > 0:
		direction = string(mirror.Upload)
	}

	elapsed := time.Duration(0)
	if !c.startTime.IsZero() {
		elapsed = c.lastEvent.Sub(c.startTime)
	}
	up := rateFromBytes(d.bytesUploaded, elapsed)
	down := rateFromBytes(d.bytesDownload, elapsed)

	return TransferSnapshot{
		Direction:       direction,
		Elapsed:         elapsed,
		BytesUploaded:   d.bytesUploaded,
		BytesDownloaded: d.bytesDownload,
		FilesUploaded:   d.filesUploaded,
		FilesDownloaded: d.filesDownload,
		Containers:      d.containers,
		ChunksAccepted:  d.chunksAccepted,
		ChunkBytes:      d.chunkBytes,
		ChunkRetries:    d.chunkRetries,
		Sessions:        d.sessions,
		Failures:        d.failures,
		UploadBps:       up,
		DownloadBps:     down,
		UploadMbps:      up * 8 / 1e6,
		DownloadMbps:    down * 8 / 1e6,
	}
}

func (c *TransferCollector) registerMetrics() {
	makeGauge := func(name, help string, valueFn func(TransferSnapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: subsystemTransfer,
			Name:      name,
			Help:      help,
		}, func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return valueFn(c.buildSnapshotLocked())
		})
	}

	makeCounter := func(name, help string, field *uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystemTransfer,
			Name:      name,
			Help:      help,
		}, func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return float64(*field)
		})
	}

	c.registry.MustRegister(
		makeGauge(
			"upload_bytes_per_second",
			"Average upload rate since the last reset.",
			func(s TransferSnapshot) float64 { return s.UploadBps },
		),
		makeGauge(
			"download_bytes_per_second",
			"Average download rate since the last reset.",
			func(s TransferSnapshot) float64 { return s.DownloadBps },
		),
		makeGauge(
			"elapsed_seconds",
			"Time between the first and last transfer event.",
			func(s TransferSnapshot) float64 { return s.Elapsed.Seconds() },
		),
		makeCounter("uploaded_bytes_total", "Bytes written to the remote store.", &c.total.bytesUploaded),
		makeCounter("downloaded_bytes_total", "Bytes written to local disk from the remote store.", &c.total.bytesDownload),
		makeCounter("uploaded_files_total", "Files created on the remote store.", &c.total.filesUploaded),
		makeCounter("downloaded_files_total", "Files written to local disk.", &c.total.filesDownload),
		makeCounter("containers_created_total", "Remote containers created.", &c.total.containers),
		makeCounter("chunks_accepted_total", "Upload session ranges acknowledged by the remote.", &c.total.chunksAccepted),
		makeCounter("chunk_bytes_total", "Bytes sent through upload sessions.", &c.total.chunkBytes),
		makeCounter("chunk_retries_total", "Chunk resends after a transient refusal.", &c.total.chunkRetries),
		makeCounter("sessions_total", "Files sent through a chunked upload session.", &c.total.sessions),
		makeCounter("failures_total", "Files or directories that could not be transferred.", &c.total.failures),
	)
}

func (c *TransferCollector) touchLocked() {
	now := time.Now()
	if c.startTime.IsZero() {
		c.startTime = now
	}
	c.lastEvent = now
}

func rateFromBytes(bytes uint64, elapsed time.Duration) float64 {
	if bytes == 0 || elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds()
}
