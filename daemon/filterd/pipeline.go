/*
Package filterd hosts the protocol engine over TCP: it accepts connections
via daemon/common.TCPServer, drives protocol.Task through its line/body
framing, asks a ScanPipeline to populate the task's results, and writes the
reply back to the client.
*/
package filterd

import "github.com/rspamd-go/protoengine/protocol"

// ScanPipeline is the external collaborator named in spec section 6: given a parsed Task and its message body, it
// populates the task's metric results, human-readable messages, extracted URLs, and skip flag. This package does
// not implement message content analysis or scoring - that is an explicit Non-goal - it only defines the seam and
// ships a safe default.
type ScanPipeline interface {
	// Scan populates task based on body. It must set at least a "default" entry in task.Results before returning.
	Scan(task *protocol.Task, body []byte) error
}

// NoopPipeline is a ScanPipeline that always reports a fixed, non-spam "default" metric. It lets the daemon run
// standalone, without a real scanner attached, and is used by this package's own tests.
type NoopPipeline struct {
	// RequiredScore and RejectScore are copied into the fixed metric result; a zero value selects 15 and 30
	// respectively.
	RequiredScore float64
	RejectScore   float64
}

// Scan implements ScanPipeline.
func (p *NoopPipeline) Scan(task *protocol.Task, body []byte) error {
	required := p.RequiredScore
	if required == 0 {
		required = 15
	}
	reject := p.RejectScore
	if reject == 0 {
		reject = 30
	}
	task.Results = map[string]protocol.MetricResult{
		"default": {
			MetricName:    "default",
			RequiredScore: required,
			RejectScore:   reject,
			Score:         0,
			Symbols:       map[string]protocol.Symbol{},
		},
	}
	if len(body) > 0 {
		task.FuzzyHashes = []string{computeFuzzyHash(body)}
	}
	return nil
}
