// Package watermark assigns per-viewer traceability codes and renders them,
// together with the logo, onto HLS segments and full exports.
package watermark

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	timeWidth     = 8
	sequenceWidth = 2
	// sequenceModulus keeps the sequence part at two base-36 digits.
	sequenceModulus = 36 * 36

	// DefaultInstanceID is used when no instance identifier is configured.
	DefaultInstanceID = "X1"
)

// CodeGenerator produces compact, sortable tags of the form
// TTTTTTTT II SS: base-36 milliseconds, the instance identifier and a
// wrapping per-process sequence number. Codes are not secrets.
type CodeGenerator struct {
	instanceID string
	seq        atomic.Uint64
	now        func() time.Time
}

// NewCodeGenerator creates a generator for instanceID. An empty id falls back
// to DefaultInstanceID.
func NewCodeGenerator(instanceID string) *CodeGenerator {
	instanceID = strings.ToUpper(strings.TrimSpace(instanceID))
	if instanceID == "" {
		instanceID = DefaultInstanceID
	}
	return &CodeGenerator{instanceID: instanceID, now: time.Now}
}

// Next returns a new code. Safe for concurrent use.
func (g *CodeGenerator) Next() string {
	n := g.seq.Add(1) % sequenceModulus
	millis := g.now().UnixMilli()

	var b strings.Builder
	b.Grow(timeWidth + len(g.instanceID) + sequenceWidth)
	b.WriteString(pad(strconv.FormatInt(millis, 36), timeWidth))
	b.WriteString(g.instanceID)
	b.WriteString(pad(strconv.FormatUint(n, 36), sequenceWidth))
	return strings.ToUpper(b.String())
}

// pad left-pads s with zeros to width, keeping the low-order digits when s is longer.
func pad(s string, width int) string {
	if len(s) >= width {
		return s[len(s)-width:]
	}
	return strings.Repeat("0", width-len(s)) + s
}
