/*
Package protocol implements the spamc/rspamc line-oriented request/response
engine: a dual-dialect, versioned protocol state machine with strict framing,
header whitelisting, bounded output buffers with header folding, and
pluggable commands.

The package deliberately knows nothing about message content analysis,
scoring, or socket I/O mechanics - those are external collaborators. A host
process feeds it lines and a body (see the daemon/filterd package for a
concrete TCP host), asks an external scanning pipeline to populate the
results, and then asks the Task to write its reply.
*/
package protocol

import "net"

// Dialect identifies the wire format a client selected in its command line.
type Dialect int

const (
	// DialectUnset marks a Task that has not yet parsed a command line.
	DialectUnset Dialect = iota
	// DialectSpamc is the SpamAssassin-compatible dialect.
	DialectSpamc
	// DialectRspamc is the native, extended dialect.
	DialectRspamc
)

func (d Dialect) String() string {
	switch d {
	case DialectSpamc:
		return "SPAMC"
	case DialectRspamc:
		return "RSPAMC"
	default:
		return "(unset)"
	}
}

// banner returns the token used as the first word of a reply banner line.
func (d Dialect) banner() string {
	if d == DialectSpamc {
		return "SPAMD"
	}
	return "RSPAMD"
}

// Version is the (major, minor) pair a client advertises after its dialect token, e.g. "RSPAMC/1.1".
type Version struct {
	Major int
	Minor int
}

// DefaultRspamcVersion is used when a Rspamc client omits an explicit version.
var DefaultRspamcVersion = Version{Major: 1, Minor: 0}

func (v Version) String() string {
	if v.Major == 0 && v.Minor == 0 {
		return ""
	}
	return itoa(v.Major) + "." + itoa(v.Minor)
}

// Command identifies which operation a Task requests.
type Command int

const (
	CommandUnset Command = iota
	CommandCheck
	CommandSymbols
	CommandReport
	CommandReportIfSpam
	CommandSkip
	CommandPing
	CommandProcess
	CommandCustom
)

// State is a position in the Task lifecycle state machine.
type State int

const (
	StateReadCommand State = iota
	StateReadHeader
	StateReadMessage
	StateWriteReply
	StateWriteError
	StateDone
)

// taskFlag is an internal bitmask mirroring the handful of boolean-ish fields the original C implementation tracks
// as one word (RSPAMD_TASK_FLAG_*) instead of several independent booleans.
type taskFlag uint32

const (
	flagPassAllFilters taskFlag = 1 << iota
	flagIsSkipped
)

// Symbol is a named rule contribution to a metric, optionally carrying auxiliary option strings.
type Symbol struct {
	Name    string
	Options []string
}

// MetricResult is one named scoring dimension produced by the scanning pipeline.
type MetricResult struct {
	MetricName    string
	RequiredScore float64
	RejectScore   float64
	Score         float64
	Symbols       map[string]Symbol
}

// Verdict reports whether the metric's score crossed its thresholds, honouring the Skip override.
func (m MetricResult) Verdict(isSkipped bool) string {
	if isSkipped {
		return "Skip"
	}
	if m.Score >= m.RequiredScore {
		return "True"
	}
	return "False"
}

// IsSpam reports whether the metric's score reached the required threshold. It does not account for Skip; callers
// driving the statistics hook should check Task.IsSkipped first.
func (m MetricResult) IsSpam() bool {
	return m.Score >= m.RequiredScore
}

// CommandHandler produces a reply for a Task dispatched to a custom command. It receives the Task and the sink the
// reply must be written to, and returns an error only for transport failures - protocol errors are reported through
// Task.Err before the handler ever runs.
type CommandHandler func(task *Task, out *Output) error

// CustomCommand is a name registered into the command registry alongside its handler.
type CustomCommand struct {
	Name    string
	Handler CommandHandler
}

// ProtoError pairs a host-defined numeric code with a message, as emitted in an error reply.
type ProtoError struct {
	Kind    ErrorKind
	Code    int
	Message string
}

func (e *ProtoError) Error() string {
	return e.Message
}

// Task is the in-memory request/response record for one client request. It carries no internal locking - the
// cooperative single-goroutine-per-connection I/O model guarantees exclusive access.
type Task struct {
	dialect Dialect
	version Version
	command Command
	custom  *CustomCommand
	state   State
	flags   taskFlag

	contentLength    int
	contentLengthSet bool

	Helo        string
	From        string
	DeliverTo   string
	QueueID     string
	Subject     string
	User        string
	FromIP      net.IP
	NRcpt       int
	MessageID   string
	Rcpt        []string

	// DigestHex is an opaque, pre-computed message digest supplied by the host pipeline for logging/dedup. The
	// core never computes it.
	DigestHex string
	// UserAgent is a free-form client identifier the host may set out of band. It is never parsed from the
	// header whitelist - only the headers in section 4.2 are recognised on the wire.
	UserAgent string

	Body []byte

	err *ProtoError

	Results  map[string]MetricResult
	Messages []string
	Urls     []string
	// FuzzyHashes lists the fuzzy hash of each text part the scanning pipeline produced one for. The log line
	// assembles one "part: <hash>" entry per element, mirroring the original's per-text-part fuzzy hash logging.
	FuzzyHashes []string

	// ModifiedMessage is the post-processing message body for a Process command reply. The host's scanning
	// pipeline sets it; it defaults to Body when left nil.
	ModifiedMessage []byte

	registry *CommandRegistry
	stats    StatsHook
}

// StatsHook receives the outcome of a successful Check/Process reply, per spec section 4.4's "Global statistics
// hook". It is optional; a nil hook disables accounting.
type StatsHook interface {
	BumpScanned(isSpam bool)
}

// NewTask constructs a Task ready to receive its command line via FeedLine. registry supplies the custom command
// table consulted when a command line names something outside the static set; it may be nil. stats is the
// optional global statistics hook invoked after a successful Check/Process reply.
func NewTask(registry *CommandRegistry, stats StatsHook) *Task {
	return &Task{
		state:    StateReadCommand,
		registry: registry,
		stats:    stats,
	}
}

// Dialect returns the dialect the client's command line selected.
func (t *Task) Dialect() Dialect { return t.dialect }

// Version returns the version the client's command line advertised.
func (t *Task) Version() Version { return t.version }

// Command returns the command the client's command line selected.
func (t *Task) Command() Command { return t.command }

// State returns the task's current lifecycle state.
func (t *Task) State() State { return t.state }

// ContentLength returns the parsed Content-Length and whether one was ever set.
func (t *Task) ContentLength() (int, bool) { return t.contentLength, t.contentLengthSet }

// PassAllFilters reports whether a "Pass: all" header was observed.
func (t *Task) PassAllFilters() bool { return t.flags&flagPassAllFilters != 0 }

// IsSkipped reports whether the scanning pipeline marked this task as skipped.
func (t *Task) IsSkipped() bool { return t.flags&flagIsSkipped != 0 }

// SetSkipped lets the scanning pipeline mark a task as skipped before the reply is written.
func (t *Task) SetSkipped(skipped bool) {
	if skipped {
		t.flags |= flagIsSkipped
	} else {
		t.flags &^= flagIsSkipped
	}
}

// Err returns the protocol error recorded for this task, if any.
func (t *Task) Err() *ProtoError { return t.err }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
