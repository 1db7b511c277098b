package protocol

import "strings"

// Kind is the classification of a protocol line.
type Kind int

const (
	KindAlive Kind = iota
	KindTCRequest
	KindPrepRequest
	KindTCResult
	KindPrepResult
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindTCRequest:
		return "tc_request"
	case KindPrepRequest:
		return "prep_request"
	case KindTCResult:
		return "tc_result"
	case KindPrepResult:
		return "prep_result"
	case KindShutdown:
		return "shutdown"
	default:
		return "alive"
	}
}

// Classify determines the kind of a line. When several markers are present the
// first match in this order wins: prep request, prep result, tc result,
// tc request, shutdown.
func Classify(line string) Kind {
	switch {
	case line == "":
		return KindAlive
	case strings.Contains(line, PrepRequestTag):
		return KindPrepRequest
	case strings.Contains(line, PrepResultTag):
		return KindPrepResult
	case strings.Contains(line, TCResultTag):
		return KindTCResult
	case strings.Contains(line, TCRequestTag):
		return KindTCRequest
	case strings.Contains(line, TokenShutdown):
		return KindShutdown
	default:
		return KindAlive
	}
}

// Classifier remembers the kind of the last line it processed.
// It is not safe for concurrent use; give each reader its own.
type Classifier struct {
	last Kind
}

// Process classifies line and returns the acknowledgement for it: empty for
// an empty line, the shutdown token for a shutdown, otherwise the line itself.
func (c *Classifier) Process(line string) (Kind, string) {
	c.last = Classify(line)
	switch {
	case line == "":
		return c.last, ""
	case c.last == KindShutdown:
		return c.last, TokenShutdown
	default:
		return c.last, line
	}
}

func (c *Classifier) Last() Kind { return c.last }

func (c *Classifier) IsShutdown() bool { return c.last == KindShutdown }

func (c *Classifier) IsTCRequest() bool { return c.last == KindTCRequest }

func (c *Classifier) IsPrepRequest() bool { return c.last == KindPrepRequest }
