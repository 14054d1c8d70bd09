package http2

import (
	"bufio"
)

// PrefaceLen is the length of the fixed client connection preface.
const PrefaceLen = len(preface)

// DetectPriorKnowledge peeks (without consuming) enough bytes from br to
// tell whether the client opened the connection with HTTP/2 prior
// knowledge (the literal "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n" preface,
// spec.md §4.5) as opposed to a plain HTTP/1.1 request line that might
// carry an "Upgrade: h2c" header.
//
// The actual HTTP/1.1 request-line/header parsing for the Upgrade path
// is out of scope here (spec.md §1); callers that see
// DetectPriorKnowledge return false are expected to parse the HTTP/1.1
// request themselves and decide whether to hand off to
// Server.ServeConn/ServePrefaced.
func DetectPriorKnowledge(br *bufio.Reader) (bool, error) {
	head, err := br.Peek(PrefaceLen)
	if err != nil {
		if len(head) > 0 && string(head) == string(preface[:len(head)]) {
			// a short read that is still a correct prefix: caller should
			// retry once more data arrives rather than treat this as h2c.
			return false, err
		}
		return false, nil
	}

	return string(head) == string(preface), nil
}

// ConsumePreface discards the already-detected preface bytes from br so
// a subsequent ServePrefaced call starts reading the first real frame.
func ConsumePreface(br *bufio.Reader) error {
	_, err := br.Discard(PrefaceLen)
	return err
}
