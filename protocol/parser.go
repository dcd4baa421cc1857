package protocol

import (
	"net"
	"strconv"
	"strings"
)

// FeedLine advances the task's state machine by one framed line (without the CRLF terminator). It implements the
// Request Parser from spec section 4.2.
func (t *Task) FeedLine(line string) error {
	switch t.state {
	case StateReadCommand:
		return t.feedCommandLine(line)
	case StateReadHeader:
		return t.feedHeaderLine(line)
	default:
		return &ProtoError{Kind: ErrInvalidState, Message: "FeedLine called outside ReadCommand/ReadHeader"}
	}
}

func (t *Task) feedCommandLine(line string) error {
	token, rest := splitFirstSpace(line)
	cmd, custom, ok := t.registry.lookup(token)
	if !ok {
		t.setError(ErrProtocolError, "unrecognised command")
		return t.err
	}
	t.command = cmd
	t.custom = custom

	rest = strings.TrimSpace(rest)
	switch {
	case hasPrefixFold(rest, "RSPAMC"):
		t.dialect = DialectRspamc
		t.version = DefaultRspamcVersion
		if idx := strings.IndexByte(rest, '/'); idx != -1 {
			v, err := parseVersion(rest[idx+1:])
			if err != nil {
				t.setError(ErrProtocolError, "malformed version string")
				return t.err
			}
			t.version = v
		}
	case hasPrefixFold(rest, "SPAMC"):
		t.dialect = DialectSpamc
		t.version = Version{}
		if idx := strings.IndexByte(rest, '/'); idx != -1 {
			v, err := parseVersion(rest[idx+1:])
			if err != nil {
				t.setError(ErrProtocolError, "malformed version string")
				return t.err
			}
			t.version = v
		}
	default:
		t.setError(ErrProtocolError, "unrecognised dialect")
		return t.err
	}

	t.state = StateReadHeader
	return nil
}

func parseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return Version{}, err
	}
	minor := 0
	if len(parts) == 2 {
		minor, err = strconv.Atoi(parts[1])
		if err != nil {
			return Version{}, err
		}
	}
	return Version{Major: major, Minor: minor}, nil
}

func (t *Task) feedHeaderLine(line string) error {
	if line == "" {
		if t.command == CommandPing || t.command == CommandSkip {
			t.state = StateWriteReply
			return nil
		}
		if t.contentLengthSet && t.contentLength > 0 {
			t.state = StateReadMessage
			return nil
		}
		t.setError(ErrLengthError, "")
		return t.err
	}

	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		t.setError(ErrProtocolError, "malformed header line")
		return t.err
	}
	name := strings.TrimSpace(line[:idx])
	value := strings.TrimSpace(line[idx+1:])

	switch strings.ToLower(name) {
	case "content-length":
		if t.contentLengthSet {
			// Second occurrence is ignored, per spec section 9's open question resolution.
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			t.setError(ErrProtocolError, "malformed Content-Length")
			return t.err
		}
		t.contentLength = n
		t.contentLengthSet = true
	case "deliver-to":
		t.DeliverTo = value
	case "helo":
		t.Helo = value
	case "from":
		t.From = value
	case "queue-id":
		t.QueueID = value
	case "rcpt":
		t.Rcpt = append(t.Rcpt, value)
	case "recipient-number":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			t.setError(ErrProtocolError, "malformed Recipient-Number")
			return t.err
		}
		t.NRcpt = n
	case "ip":
		ip := net.ParseIP(value)
		if ip == nil || ip.To4() == nil {
			t.setError(ErrProtocolError, "malformed IP header")
			return t.err
		}
		// A repeated IP header overwrites, per spec section 9's open question resolution.
		t.FromIP = ip
	case "pass":
		if strings.EqualFold(value, "all") {
			t.flags |= flagPassAllFilters
		}
		// Any other value is silently ignored - the one documented asymmetry in the header table.
	case "subject":
		t.Subject = value
	case "user":
		t.User = value
	default:
		t.setError(ErrProtocolError, "unrecognised header "+name)
		return t.err
	}
	return nil
}

// FeedBody supplies the task's message body. It must be called exactly once, while the task is in ReadMessage,
// with a byte slice whose length equals the parsed Content-Length.
func (t *Task) FeedBody(body []byte) error {
	if t.state != StateReadMessage {
		return &ProtoError{Kind: ErrInvalidState, Message: "FeedBody called outside ReadMessage"}
	}
	if len(body) != t.contentLength {
		t.setError(ErrLengthError, "body length does not match Content-Length")
		return t.err
	}
	t.Body = body
	t.state = StateWriteReply
	return nil
}

func splitFirstSpace(s string) (first, rest string) {
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
