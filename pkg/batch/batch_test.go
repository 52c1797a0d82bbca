package batch

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cometsec/comet/pkg/types"
)

var testLimits = Limits{TargetBytes: 1000, HardCapBytes: 1100, SingleItemBytes: 700}

// sizedEnvelope builds an envelope whose marshaled form is exactly
// itemSize bytes, so the sealing arithmetic can be asserted precisely.
func sizedEnvelope(t *testing.T, id string, itemSize int) *types.Envelope {
	t.Helper()
	env := &types.Envelope{
		ODataContext:    "resources",
		TenantID:        "t1",
		ExportID:        "exp1",
		ExportTimestamp: "2026-01-02T03:04:05Z",
		Record:          map[string]any{"id": id, "data": ""},
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.GreaterOrEqual(t, itemSize, len(raw))
	env.Record["data"] = strings.Repeat("x", itemSize-len(raw))
	raw, err = json.Marshal(env)
	require.NoError(t, err)
	require.Len(t, raw, itemSize)
	return env
}

func TestAddSealsAtTargetWithExactSizes(t *testing.T) {
	b := NewBatcher(testLimits)

	// Three 300-byte items fit in 2+300+1+300+1+300 = 904 bytes; a
	// fourth would project 1205 > 1000 and seals.
	var sealed []*Batch
	for i := 0; i < 10; i++ {
		out, err := b.Add(sizedEnvelope(t, fmt.Sprintf("e%02d", i), 300))
		require.NoError(t, err)
		sealed = append(sealed, out...)
	}
	final := b.Flush()
	require.NotNil(t, final)

	require.Len(t, sealed, 3)
	for _, batch := range sealed {
		assert.Equal(t, 3, batch.Count())
		assert.Equal(t, 904, batch.Size())
		assert.False(t, batch.Oversized())
	}
	assert.Equal(t, 1, final.Count())
	assert.Equal(t, 302, final.Size())
}

func TestSizeMatchesPayloadLength(t *testing.T) {
	b := NewBatcher(testLimits)

	var all []*Batch
	for i := 0; i < 7; i++ {
		out, err := b.Add(sizedEnvelope(t, fmt.Sprintf("e%02d", i), 250+i*17))
		require.NoError(t, err)
		all = append(all, out...)
	}
	if final := b.Flush(); final != nil {
		all = append(all, final)
	}

	require.NotEmpty(t, all)
	for _, batch := range all {
		payload := batch.Payload()
		assert.Equal(t, batch.Size(), len(payload))
		assert.LessOrEqual(t, batch.Size(), testLimits.HardCapBytes)

		var decoded []map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))
		assert.Len(t, decoded, batch.Count())
	}
}

func TestOversizedEnvelopeGetsOwnFlaggedBatch(t *testing.T) {
	b := NewBatcher(testLimits)

	out, err := b.Add(sizedEnvelope(t, "small", 300))
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = b.Add(sizedEnvelope(t, "huge", 2000))
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, []string{"small"}, out[0].IDs())
	assert.False(t, out[0].Oversized())

	assert.Equal(t, []string{"huge"}, out[1].IDs())
	assert.True(t, out[1].Oversized())
	assert.Equal(t, 2002, out[1].Size())

	assert.Nil(t, b.Flush())
}

func TestOversizedEnvelopeWithEmptyCurrent(t *testing.T) {
	b := NewBatcher(testLimits)

	out, err := b.Add(sizedEnvelope(t, "huge", 1500))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Oversized())
	assert.Equal(t, 1, out[0].Count())
	assert.Nil(t, b.Flush())
}

func TestLargeEnvelopeSealsCurrentFirst(t *testing.T) {
	b := NewBatcher(testLimits)

	out, err := b.Add(sizedEnvelope(t, "small", 100))
	require.NoError(t, err)
	require.Empty(t, out)

	// 750 > SingleItemBytes but well under the hard cap: the pending
	// batch is sealed and the large envelope starts the next one.
	out, err = b.Add(sizedEnvelope(t, "large", 750))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"small"}, out[0].IDs())

	final := b.Flush()
	require.NotNil(t, final)
	assert.Equal(t, []string{"large"}, final.IDs())
	assert.False(t, final.Oversized())
}

func TestLargeEnvelopeIntoEmptyBatchIsAppended(t *testing.T) {
	b := NewBatcher(testLimits)

	out, err := b.Add(sizedEnvelope(t, "large", 1050))
	require.NoError(t, err)
	assert.Empty(t, out)

	// The follow-up envelope cannot share the batch and seals it.
	out, err = b.Add(sizedEnvelope(t, "next", 100))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"large"}, out[0].IDs())
	assert.Equal(t, 1052, out[0].Size())
}

func TestOrderPreservedWithinAndAcrossBatches(t *testing.T) {
	b := NewBatcher(testLimits)

	want := make([]string, 0, 12)
	var got []string
	collect := func(batches []*Batch) {
		for _, batch := range batches {
			got = append(got, batch.IDs()...)
		}
	}

	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("e%02d", i)
		want = append(want, id)
		size := 280
		if i == 5 {
			size = 2000
		}
		out, err := b.Add(sizedEnvelope(t, id, size))
		require.NoError(t, err)
		collect(out)
	}
	if final := b.Flush(); final != nil {
		collect([]*Batch{final})
	}

	assert.Equal(t, want, got)
}

func TestFlushEmptyReturnsNil(t *testing.T) {
	b := NewBatcher(testLimits)
	assert.Nil(t, b.Flush())

	out, err := b.Add(sizedEnvelope(t, "only", 300))
	require.NoError(t, err)
	require.Empty(t, out)

	final := b.Flush()
	require.NotNil(t, final)
	assert.Equal(t, 1, final.Count())
	assert.Nil(t, b.Flush())
}

func TestMarshalFailureLosesOnlyThatEnvelope(t *testing.T) {
	b := NewBatcher(testLimits)

	out, err := b.Add(sizedEnvelope(t, "good", 300))
	require.NoError(t, err)
	require.Empty(t, out)

	bad := &types.Envelope{
		ODataContext: "resources",
		Record:       map[string]any{"id": "bad", "ch": make(chan int)},
	}
	_, err = b.Add(bad)
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to marshal envelope")

	final := b.Flush()
	require.NotNil(t, final)
	assert.Equal(t, []string{"good"}, final.IDs())
}

func TestPayloadCarriesEnvelopeMetadata(t *testing.T) {
	b := NewBatcher(testLimits)
	env := &types.Envelope{
		ODataContext:    "resources",
		ResourceType:    "microsoft.compute/virtualmachines",
		ResourceGroup:   "rg1",
		TenantID:        "t1",
		SubscriptionID:  "s1",
		ExportID:        "exp1",
		ExportTimestamp: "2026-01-02T03:04:05Z",
		Record:          map[string]any{"id": "vm1"},
	}
	_, err := b.Add(env)
	require.NoError(t, err)
	final := b.Flush()
	require.NotNil(t, final)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(final.Payload(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "resources", decoded[0]["odataContext"])
	assert.Equal(t, "rg1", decoded[0]["resourceGroup"])
	assert.Equal(t, "exp1", decoded[0]["exportId"])
	record, ok := decoded[0]["record"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "vm1", record["id"])
}
