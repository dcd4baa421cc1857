package filterd

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/rspamd-go/protoengine/logx"
	"github.com/rspamd-go/protoengine/metrics"
	"github.com/rspamd-go/protoengine/procsup"
	"github.com/rspamd-go/protoengine/protocol"
)

// maxLogWriterBytes bounds how many of the most recently written reply bytes a ByteLogWriter retains for
// diagnostics after a failed write.
const maxLogWriterBytes = 4096

// Daemon implements daemon/common.TCPApp: it drives one protocol.Task per request across a TCP connection,
// consulting a ScanPipeline to populate each task's results before writing its reply.
type Daemon struct {
	// Registry supplies the command table every Task is constructed with. It must be fully populated before the
	// daemon starts accepting connections - the command registry is read-only once serving begins.
	Registry *protocol.CommandRegistry
	// Stats is the optional global statistics hook bumped after every successful Check/Process reply.
	Stats *metrics.ScanCounters
	// Pipeline populates a Task's results from its parsed body. Defaults to &NoopPipeline{} if nil.
	Pipeline ScanPipeline
	// MaxMessageBytes caps the Content-Length this daemon will read for a single task's body. A request declaring a
	// larger Content-Length is not read: the daemon logs a warning and closes the connection without a reply.
	MaxMessageBytes int

	connStats *metrics.Stats
}

// NewDaemon constructs a filterd Daemon ready to be handed to daemon/common.TCPServer.
func NewDaemon(registry *protocol.CommandRegistry, stats *metrics.ScanCounters, pipeline ScanPipeline, maxMessageBytes int) *Daemon {
	if pipeline == nil {
		pipeline = &NoopPipeline{}
	}
	return &Daemon{
		Registry:        registry,
		Stats:           stats,
		Pipeline:        pipeline,
		MaxMessageBytes: maxMessageBytes,
		connStats:       metrics.NewStats(),
	}
}

// GetConnectionStats implements daemon/common.TCPApp.
func (d *Daemon) GetConnectionStats() *metrics.Stats {
	return d.connStats
}

// HandleTCPConnection implements daemon/common.TCPApp. It serves requests on conn one after another, until the
// client disconnects or a transport error ends the connection early.
func (d *Daemon) HandleTCPConnection(logger logx.Logger, clientIP string, conn net.Conn) {
	// A *metrics.ScanCounters nil pointer must not be handed to NewTask as a non-nil StatsHook interface value, or
	// Task.bumpStats's nil check would never trip and a later BumpScanned call would dereference a nil receiver.
	var statsHook protocol.StatsHook
	if d.Stats != nil {
		statsHook = d.Stats
	}

	framer := protocol.NewFramer(conn)
	for {
		if procsup.LockedDown() {
			logger.Warning(clientIP, nil, "closing connection, lock-down is in effect")
			return
		}
		task := protocol.NewTask(d.Registry, statsHook)
		if !d.serveOneTask(logger, clientIP, framer, conn, task) {
			return
		}
	}
}

// serveOneTask drives a single Task through the Line Framer, Request Parser, scanning pipeline, and Reply Writer.
// It returns true if the connection should keep serving further requests.
func (d *Daemon) serveOneTask(logger logx.Logger, clientIP string, framer *protocol.Framer, conn net.Conn, task *protocol.Task) bool {
	for task.State() == protocol.StateReadCommand || task.State() == protocol.StateReadHeader {
		line, err := framer.ReadLine()
		if err != nil {
			if err != io.EOF {
				logger.MaybeMinorError(errors.Wrap(err, "reading a framed line"))
			}
			return false
		}
		// A parse error leaves the task in StateWriteError; stop feeding lines and fall through to the reply.
		_ = task.FeedLine(line)
	}

	if task.State() == protocol.StateReadMessage {
		n, _ := task.ContentLength()
		if n > d.MaxMessageBytes {
			logger.Warning(clientIP, nil, "rejecting request with Content-Length %d exceeding the configured maximum %d", n, d.MaxMessageBytes)
			return false
		}
		body, err := framer.ReadBody(n)
		if err != nil {
			logger.MaybeMinorError(errors.Wrap(err, "reading request body"))
			return false
		}
		_ = task.FeedBody(body)
	}

	if task.State() == protocol.StateWriteReply {
		if err := d.Pipeline.Scan(task, task.Body); err != nil {
			logger.Warning(clientIP, err, "scanning pipeline failed")
		}
	}

	begin := time.Now()
	logWriter := logx.NewByteLogWriter(conn, maxLogWriterBytes)
	out := protocol.NewOutput(logWriter)
	if err := task.WriteReply(out); err != nil {
		logger.Warning(clientIP, err, "failed to write reply, last bytes attempted: %s", logx.ByteArrayLogString(logWriter.Retrieve(true)))
		return false
	}
	logger.Info(clientIP, nil, task.LogLine(time.Since(begin)))
	return true
}
