package depquant

import (
	"testing"

	"github.com/vvenc-go/depquant/fracbits"
)

func TestRateEstimatorTableSizesPerChannel(t *testing.T) {
	rom := NewRom()
	m := fracbits.NewModel()

	luma := NewRateEstimator(rom.TUParams(8, 8, ChannelLuma), m, 0)
	for set := 0; set < numCtxSetsSig; set++ {
		if len(luma.sigFracBits[set]) != 12 {
			t.Fatalf("luma significance set %d sized %d, want 12", set, len(luma.sigFracBits[set]))
		}
	}
	if len(luma.gtxFracBits) != 21 {
		t.Fatalf("luma gtx table sized %d, want 21", len(luma.gtxFracBits))
	}

	chroma := NewRateEstimator(rom.TUParams(8, 8, ChannelChroma), m, 0)
	for set := 0; set < numCtxSetsSig; set++ {
		if len(chroma.sigFracBits[set]) != 8 {
			t.Fatalf("chroma significance set %d sized %d, want 8", set, len(chroma.sigFracBits[set]))
		}
	}
	if len(chroma.gtxFracBits) != 11 {
		t.Fatalf("chroma gtx table sized %d, want 11", len(chroma.gtxFracBits))
	}
}

func TestRateEstimatorCoeffCostsShape(t *testing.T) {
	rom := NewRom()
	tu := rom.TUParams(8, 8, ChannelLuma)
	re := NewRateEstimator(tu, fracbits.NewModel(), 0)

	for ctxID, cb := range re.gtxFracBits {
		if cb.Bits[0] != 0 {
			t.Fatalf("ctx %d: coding level 0 must be free in the combined table, got %d", ctxID, cb.Bits[0])
		}
		for level := 1; level < 6; level++ {
			if cb.Bits[level] <= 0 {
				t.Fatalf("ctx %d level %d: non-positive cost %d", ctxID, level, cb.Bits[level])
			}
		}
		// levels 2..5 all spend gt1=1 plus a parity bin on top of level 1's
		// gt1=0 escape, so they can never undercut it with sane inputs
		if cb.Bits[2] <= cb.Bits[1]-scaleOne {
			t.Fatalf("ctx %d: implausible level-2 cost %d vs level-1 %d", ctxID, cb.Bits[2], cb.Bits[1])
		}
	}
}

func TestRateEstimatorLastBitsNonNegativeAndMonotonicGroups(t *testing.T) {
	rom := NewRom()
	tu := rom.TUParams(16, 16, ChannelLuma)
	re := NewRateEstimator(tu, fracbits.NewModel(), 0)

	for pos := 0; pos < tu.Width; pos++ {
		if v := re.LastBitsX(pos); v < 0 {
			t.Fatalf("LastBitsX(%d) = %d, want >= 0", pos, v)
		}
	}
	for pos := 0; pos < tu.Height; pos++ {
		if v := re.LastBitsY(pos); v < 0 {
			t.Fatalf("LastBitsY(%d) = %d, want >= 0", pos, v)
		}
	}
	// under a fresh 50/50 model every continuation bin costs one bit, so
	// the cumulative prefix cost never decreases with the coordinate
	for pos := 1; pos < tu.Width; pos++ {
		if re.LastBitsX(pos) < re.LastBitsX(pos-1) {
			t.Fatalf("LastBitsX not monotone at %d: %d < %d", pos, re.LastBitsX(pos), re.LastBitsX(pos-1))
		}
	}
}

func TestRateEstimatorCbfDeltaFoldedIntoLastOffset(t *testing.T) {
	rom := NewRom()
	tu := rom.TUParams(8, 8, ChannelLuma)
	plain := NewRateEstimator(tu, fracbits.NewModel(), 0)
	const delta = int64(3 << scaleBits)
	withCbf := NewRateEstimator(tu, fracbits.NewModel(), delta)
	for scanIdx := range tu.ScanInfo {
		if withCbf.LastOffset(scanIdx)-plain.LastOffset(scanIdx) != delta {
			t.Fatalf("scan %d: cbf delta not folded into the last-position cost", scanIdx)
		}
	}
}

func TestRateEstimatorSigSbbCostsDistinguishContexts(t *testing.T) {
	rom := NewRom()
	tu := rom.TUParams(8, 8, ChannelLuma)
	m := fracbits.NewModel()
	for i := 0; i < 20; i++ {
		m.ObserveSigSbb(1, 1)
	}
	re := NewRateEstimator(tu, m, 0)
	if re.SigSbbCost(0) == re.SigSbbCost(1) {
		t.Fatal("expected coded-neighbour sub-block context to differ from the no-neighbour context after training")
	}
}

func TestRateEstimatorStateSigSets(t *testing.T) {
	rom := NewRom()
	tu := rom.TUParams(4, 4, ChannelLuma)
	m := fracbits.NewModel()
	for i := 0; i < 30; i++ {
		m.ObserveSig(1, 0, 1)
	}
	for i := 0; i < 10; i++ {
		m.ObserveSig(2, 0, 0)
	}
	re := NewRateEstimator(tu, m, 0)
	if &re.sigFlagBits(0)[0] != &re.sigFlagBits(1)[0] {
		t.Fatal("states 0 and 1 must share significance context set 0")
	}
	if &re.sigFlagBits(2)[0] == &re.sigFlagBits(3)[0] {
		t.Fatal("states 2 and 3 must read distinct significance context sets")
	}
	if re.sigFlagBits(0)[0] == re.sigFlagBits(2)[0] {
		t.Fatal("sets 0 and 1 must adapt independently")
	}
	if re.sigFlagBits(2)[0] == re.sigFlagBits(3)[0] {
		t.Fatal("sets 1 and 2 must adapt independently")
	}
}
