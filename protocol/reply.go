package protocol

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/valyala/bytebufferpool"
)

// Output is the byte-oriented sink a Task's reply is written to. It wraps the collaborator interface named in
// spec section 6 ("A byte-oriented write(bytes, more_follows, flush) sink"): every composed line is staged into a
// pooled per-task arena, and the arena is flushed to the underlying writer in a single call once the reply is
// complete, then returned to the pool.
type Output struct {
	w     io.Writer
	arena *bytebufferpool.ByteBuffer
}

// NewOutput wraps w for use as a Task's reply sink.
func NewOutput(w io.Writer) *Output {
	return &Output{w: w, arena: checkoutArena()}
}

func (o *Output) write(p []byte) error {
	_, err := o.arena.Write(p)
	return err
}

// Write implements io.Writer so a registered custom command handler can compose its reply the same way the
// built-in commands do.
func (o *Output) Write(p []byte) (int, error) {
	return o.arena.Write(p)
}

// flush pushes the staged reply to the underlying writer in one call and releases the arena back to the pool.
func (o *Output) flush() error {
	defer releaseArena(o.arena)
	_, err := o.w.Write(o.arena.B)
	return err
}

// maxOutputLineLength bounds every composed line, per spec section 4.4's "1000-byte stack buffer". A line that
// would exceed it is truncated and its last two bytes are forced to CRLF so framing is never violated.
const maxOutputLineLength = 1000

// maxFoldedLineLength is the RFC 2822-style folding width used for the Urls summary - slightly under
// maxOutputLineLength to leave room for the trailing CRLF.
const maxFoldedLineLength = 997

func composeLine(format string, args ...interface{}) []byte {
	line := fmt.Sprintf(format, args...) + "\r\n"
	if len(line) <= maxOutputLineLength {
		return []byte(line)
	}
	truncated := []byte(line[:maxOutputLineLength])
	truncated[maxOutputLineLength-2] = '\r'
	truncated[maxOutputLineLength-1] = '\n'
	return truncated
}

func score2(v float64) string { return fmt.Sprintf("%.2f", v) }

// bannerLine formats the first line of any reply: "<banner>/<version> <code> <text>".
func (t *Task) bannerLine(code int, text string) []byte {
	version := t.version.String()
	if version == "" {
		return composeLine("%s %d %s", t.dialect.banner(), code, text)
	}
	return composeLine("%s/%s %d %s", t.dialect.banner(), version, code, text)
}

// WriteReply is the Reply Writer's entry point (spec section 4.4). It dispatches on the task's error state and
// command, writes a dialect-correct response to out, and - for a successful Check/Process reply - bumps the
// global statistics hook. A second call after the reply has completed (state StateDone) returns an error instead
// of writing anything again, per the idempotence property in spec section 8.
func (t *Task) WriteReply(out *Output) error {
	if t.state == StateDone {
		return &ProtoError{Kind: ErrInvalidState, Message: "WriteReply called after task completion"}
	}

	var err error
	if t.state == StateWriteError {
		err = t.writeErrorReply(out)
	} else {
		switch t.command {
		case CommandCheck, CommandSymbols, CommandReport, CommandReportIfSpam:
			err = t.writeCheckReply(out)
		case CommandProcess:
			err = t.writeProcessReply(out)
		case CommandSkip:
			err = t.write(out, t.bannerLine(CodeOK, "SKIP"))
		case CommandPing:
			err = t.write(out, t.bannerLine(CodeOK, "PONG"))
		case CommandCustom:
			if t.custom != nil && t.custom.Handler != nil {
				err = t.custom.Handler(t, out)
			}
		}
	}

	t.state = StateDone
	if err != nil {
		releaseArena(out.arena)
		return &ProtoError{Kind: ErrTransportError, Message: err.Error()}
	}
	return out.flush()
}

func (t *Task) write(out *Output, p []byte) error {
	return out.write(p)
}

func (t *Task) writeErrorReply(out *Output) error {
	if err := t.write(out, t.bannerLine(t.err.Code, errorStatusText(t.err.Kind))); err != nil {
		return err
	}
	if t.dialect == DialectRspamc {
		if err := t.write(out, composeLine("Error: %s", t.err.Message)); err != nil {
			return err
		}
	}
	return t.write(out, []byte("\r\n"))
}

func errorStatusText(kind ErrorKind) string {
	_, tag, _ := errorTag(kind)
	return tag
}

func (t *Task) defaultMetric() (MetricResult, bool) {
	m, ok := t.Results["default"]
	return m, ok
}

func (t *Task) orderedMetricNames() []string {
	names := make([]string, 0, len(t.Results))
	for name := range t.Results {
		if name != "default" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := t.Results["default"]; ok {
		return append([]string{"default"}, names...)
	}
	return names
}

func (t *Task) writeCheckReply(out *Output) error {
	if err := t.write(out, t.bannerLine(CodeOK, "OK")); err != nil {
		return err
	}

	if t.dialect == DialectSpamc {
		return t.writeSpamcCheckBody(out)
	}
	return t.writeRspamcCheckBody(out)
}

func (t *Task) writeSpamcCheckBody(out *Output) error {
	m, _ := t.defaultMetric()
	verdict := m.Verdict(t.IsSkipped())
	line := composeLine("Spam: %s ; %s / %s", spamcBool(verdict), score2(m.Score), score2(m.RequiredScore))
	if err := t.write(out, line); err != nil {
		return err
	}
	if t.command == CommandSymbols {
		names := make([]string, 0, len(m.Symbols))
		for name := range m.Symbols {
			names = append(names, name)
		}
		if err := t.write(out, composeLine("%s", strings.Join(names, ","))); err != nil {
			return err
		}
	}
	if err := t.write(out, []byte("\r\n")); err != nil {
		return err
	}
	t.bumpStats(m)
	return nil
}

// spamcBool converts the True/False/Skip verdict token into the SPAMC dialect's boolean spelling. SPAMC has no
// notion of Skip; a skipped task is reported as non-spam, same as the original's forgiving handling of this case.
func spamcBool(verdict string) string {
	if verdict == "True" {
		return "True"
	}
	return "False"
}

func (t *Task) writeRspamcCheckBody(out *Output) error {
	defaultMetric, err := t.writeRspamcCheckHeaders(out)
	if err != nil {
		return err
	}
	if err := t.write(out, []byte("\r\n")); err != nil {
		return err
	}
	t.bumpStats(defaultMetric)
	return nil
}

// writeRspamcCheckHeaders composes the Rspamc check-reply header section: every metric's Metric line (and, for the
// Symbols command, its Symbol lines), the Message lines, and the Urls summary. It writes neither the banner nor the
// trailing blank line, so a Process reply can reuse it for the header section that precedes its message body.
func (t *Task) writeRspamcCheckHeaders(out *Output) (MetricResult, error) {
	names := t.orderedMetricNames()
	var defaultMetric MetricResult
	for _, name := range names {
		m := t.Results[name]
		if name == "default" {
			defaultMetric = m
		}
		if err := t.write(out, t.metricLine(m)); err != nil {
			return defaultMetric, err
		}
		if t.command == CommandSymbols {
			if err := t.writeSymbols(out, m); err != nil {
				return defaultMetric, err
			}
		}
	}
	for _, msg := range t.Messages {
		if err := t.write(out, composeLine("Message: %s", msg)); err != nil {
			return defaultMetric, err
		}
	}
	if len(t.Urls) > 0 {
		if err := t.writeUrls(out); err != nil {
			return defaultMetric, err
		}
	}
	return defaultMetric, nil
}

func (t *Task) metricLine(m MetricResult) []byte {
	verdict := m.Verdict(t.IsSkipped())
	if t.version.Minor >= 1 {
		return composeLine("Metric: %s; %s; %s / %s / %s", m.MetricName, verdict, score2(m.Score), score2(m.RequiredScore), score2(m.RejectScore))
	}
	return composeLine("Metric: %s; %s; %s / %s", m.MetricName, verdict, score2(m.Score), score2(m.RequiredScore))
}

func (t *Task) writeSymbols(out *Output, m MetricResult) error {
	for name, sym := range m.Symbols {
		if len(sym.Options) == 0 {
			if err := t.write(out, composeLine("Symbol: %s", name)); err != nil {
				return err
			}
			continue
		}
		if err := t.write(out, composeLine("Symbol: %s; %s", name, strings.Join(sym.Options, ","))); err != nil {
			return err
		}
	}
	return nil
}

// writeUrls composes the "Urls:" summary with RFC 2822-style header folding and host de-duplication, per spec
// section 4.4 item 5. Hosts are canonicalised with miekg/dns before being measured and deduplicated, so that a
// trailing-dot FQDN and its bare form are treated as the same host.
func (t *Task) writeUrls(out *Output) error {
	type seenKey struct {
		length int
		host   string
	}
	seen := make(map[seenKey]struct{}, len(t.Urls))
	hosts := make([]string, 0, len(t.Urls))
	for _, raw := range t.Urls {
		host := canonicalHost(raw)
		if len(host) == 0 || len(host) > 1000 {
			continue
		}
		key := seenKey{length: len(host), host: host}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		hosts = append(hosts, host)
	}
	if len(hosts) == 0 {
		return nil
	}

	var line strings.Builder
	line.WriteString("Urls: ")
	for i, host := range hosts {
		piece := host
		if i < len(hosts)-1 {
			piece += ", "
		}
		if line.Len()+len(piece) > maxFoldedLineLength {
			if err := t.write(out, []byte(line.String()+"\r\n")); err != nil {
				return err
			}
			line.Reset()
			line.WriteString(" ")
		}
		line.WriteString(piece)
	}
	return t.write(out, []byte(line.String()+"\r\n"))
}

func canonicalHost(raw string) string {
	name := dns.Fqdn(strings.TrimSpace(raw))
	if !dns.IsDomainName(name) {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSuffix(name, ".")
}

// writeProcessReply serialises a Process command reply: the same header section a Rspamc Check reply produces
// (Metric/Symbol/Message/Urls lines), followed by Content-Length and the outbound message - the body with an
// X-Spam-Status header prepended, per the original's g_mime_message_add_header handling of this status line: it
// rides on the message that gets streamed back, never as a SPAMD/RSPAMD protocol header line.
func (t *Task) writeProcessReply(out *Output) error {
	body := t.ModifiedMessage
	if body == nil {
		body = t.Body
	}

	if err := t.write(out, t.bannerLine(CodeOK, "OK")); err != nil {
		return err
	}
	defaultMetric, err := t.writeRspamcCheckHeaders(out)
	if err != nil {
		return err
	}

	status := fmt.Sprintf("%s; %s / %s", defaultMetric.Verdict(t.IsSkipped()), score2(defaultMetric.Score), score2(defaultMetric.RequiredScore))
	outboundMessage := append([]byte(fmt.Sprintf("X-Spam-Status: %s\r\n", status)), body...)

	if err := t.write(out, composeLine("Content-Length: %d", len(outboundMessage))); err != nil {
		return err
	}
	if err := t.write(out, []byte("\r\n")); err != nil {
		return err
	}
	if err := t.write(out, outboundMessage); err != nil {
		return err
	}
	t.bumpStats(defaultMetric)
	return nil
}

func (t *Task) bumpStats(m MetricResult) {
	if t.stats == nil {
		return
	}
	t.stats.BumpScanned(!t.IsSkipped() && m.IsSpam())
}

// LogLine assembles the structured log record described in spec section 4.4: one line summarising the default
// metric's verdict, its symbols, the body length, and the elapsed processing time.
func (t *Task) LogLine(elapsed time.Duration) string {
	m, _ := t.defaultMetric()
	var symbols strings.Builder
	names := make([]string, 0, len(m.Symbols))
	for name := range m.Symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		symbols.WriteString(name)
		symbols.WriteString(",")
	}
	symbolList := strings.TrimSuffix(symbols.String(), ",")

	var b strings.Builder
	fmt.Fprintf(&b, "msg ok, id: %s, (%s: %s: [%s/%s/%s] [%s]), len: %d, time: %s",
		t.MessageID, m.MetricName, m.Verdict(t.IsSkipped()), score2(m.Score), score2(m.RequiredScore), score2(m.RejectScore),
		symbolList, len(t.Body), elapsed)
	for _, hash := range t.FuzzyHashes {
		fmt.Fprintf(&b, ", part: %s", hash)
	}
	return b.String()
}
