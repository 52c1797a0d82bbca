// Package batch accumulates event envelopes into JSON array payloads
// bounded by a byte budget. It is a pure state machine: no IO, no
// clocks, no concurrency. Callers feed envelopes one at a time and
// transmit whatever sealed batches come back.
package batch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cometsec/comet/pkg/types"
)

// Limits bounds the serialized size of a batch. A batch is sealed before
// it would cross HardCapBytes, preferentially sealed once TargetBytes is
// reached, and an envelope larger than SingleItemBytes gets a batch of
// its own.
type Limits struct {
	TargetBytes     int
	HardCapBytes    int
	SingleItemBytes int
}

// Batch is an ordered group of marshaled envelopes. Sealed batches are
// immutable; Payload assembles the JSON array sent on the wire.
type Batch struct {
	items     [][]byte
	ids       []string
	size      int
	oversized bool
}

func newBatch() *Batch {
	return &Batch{size: 2}
}

// Count returns the number of envelopes in the batch.
func (b *Batch) Count() int { return len(b.items) }

// Size returns the serialized size of the batch in bytes, brackets and
// separators included. Size always equals len(Payload()).
func (b *Batch) Size() int { return b.size }

// IDs returns the record identifiers of the enveloped records, in
// insertion order.
func (b *Batch) IDs() []string { return b.ids }

// Oversized reports whether this batch holds a single envelope that
// alone exceeded the hard cap. Such batches are transmitted anyway and
// surfaced in the run report.
func (b *Batch) Oversized() bool { return b.oversized }

// Payload returns the batch serialized as a JSON array.
func (b *Batch) Payload() []byte {
	out := make([]byte, 0, b.size)
	out = append(out, '[')
	out = append(out, bytes.Join(b.items, []byte{','})...)
	out = append(out, ']')
	return out
}

func (b *Batch) append(item []byte, id string) {
	if len(b.items) > 0 {
		b.size++
	}
	b.items = append(b.items, item)
	b.ids = append(b.ids, id)
	b.size += len(item)
}

// Batcher converts a sequence of envelopes into a sequence of batches
// without splitting any envelope across batches and preserving input
// order within and across batches.
type Batcher struct {
	limits  Limits
	current *Batch
}

// NewBatcher returns a Batcher enforcing the given limits. Limits are
// trusted as validated by the caller.
func NewBatcher(limits Limits) *Batcher {
	return &Batcher{limits: limits, current: newBatch()}
}

// Add marshals the envelope and places it into the current batch,
// sealing batches as the limits demand. The returned slice holds the
// batches sealed by this call in send order: usually none, one when a
// limit was crossed, two when an envelope bigger than the hard cap
// forces out both the current batch and its own single-element batch.
// A marshal failure loses only the one envelope, never sealed state.
func (b *Batcher) Add(envelope *types.Envelope) ([]*Batch, error) {
	item, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope for %s: %w", envelope.RecordID(), err)
	}
	id := envelope.RecordID()

	// An envelope that cannot fit in any batch still ships, alone and
	// flagged, rather than being dropped.
	if 2+len(item) > b.limits.HardCapBytes {
		var sealed []*Batch
		if b.current.Count() > 0 {
			sealed = append(sealed, b.seal())
		}
		lone := newBatch()
		lone.append(item, id)
		lone.oversized = true
		return append(sealed, lone), nil
	}

	projected := b.current.size + len(item)
	if b.current.Count() > 0 {
		projected++
	}

	// Seal when the envelope would push a non-empty batch past the
	// target (the hard cap sits above the target, so this also covers
	// it), or when the envelope alone is disproportionately large. An
	// empty batch always accepts the envelope.
	if b.current.Count() > 0 && (projected > b.limits.TargetBytes || len(item) > b.limits.SingleItemBytes) {
		sealed := b.seal()
		b.current.append(item, id)
		return []*Batch{sealed}, nil
	}

	b.current.append(item, id)
	return nil, nil
}

// Flush seals and returns the partially filled batch, or nil when
// nothing is pending. Call once after the envelope stream is exhausted.
func (b *Batcher) Flush() *Batch {
	if b.current.Count() == 0 {
		return nil
	}
	return b.seal()
}

func (b *Batcher) seal() *Batch {
	sealed := b.current
	b.current = newBatch()
	return sealed
}
