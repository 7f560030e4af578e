package depquant

import (
	"testing"

	"github.com/vvenc-go/depquant/fracbits"
)

// TestCommonCtxUpdateResetsSubBlockState pins the sub-block close-out
// contract: after commonCtx.update the state's absLevels and per-sub-block
// counters belong to the sub-block about to be entered, its refSbbCtxID
// points at its own bank, and the closed sub-block's levels have been
// captured into that bank. (ctx is rebuilt from the bank's neighbour
// levels, so it is not checked here.)
func TestCommonCtxUpdateResetsSubBlockState(t *testing.T) {
	rom := NewRom()
	tu := rom.TUParams(8, 8, ChannelLuma)
	re := NewRateEstimator(tu, fracbits.NewModel(), 0)

	var cc commonCtx
	cc.reset(tu, re)

	s := newState(0)
	s.attach(re)
	s.init()
	s.numSigSbb = 2
	s.goRicePar = 3
	for i := range s.absLevels {
		s.absLevels[i] = 7
	}
	s.ctx[3] = ctxAcc{tplAcc: 33, sumAbs: 9}

	si := tu.ScanInfo[16] // lowest scan index of the second sub-block
	if si.InsidePos != 0 {
		t.Fatalf("scan 16 should close a sub-block, insidePos = %d", si.InsidePos)
	}
	cc.update(si, -1, s)

	var zeroLevels [16]uint8
	if s.absLevels != zeroLevels {
		t.Fatalf("absLevels not cleared on sub-block close: %v", s.absLevels)
	}
	if s.numSigSbb != 0 || s.goRicePar != 0 {
		t.Fatalf("per-sub-block counters not reset: numSigSbb=%d goRicePar=%d", s.numSigSbb, s.goRicePar)
	}
	if s.refSbbCtxID != s.stateID {
		t.Fatalf("refSbbCtxID = %d, want the state's own id %d", s.refSbbCtxID, s.stateID)
	}

	// the closed sub-block's levels must have been captured into the bank
	// before the reset
	bank := cc.banks[cc.currBase+int(s.stateID)]
	for i := 0; i < si.SbbSize; i++ {
		if bank.levels[si.ScanIdx+i] != 7 {
			t.Fatalf("bank.levels[%d] = %d, want the pre-reset level 7", si.ScanIdx+i, bank.levels[si.ScanIdx+i])
		}
	}
}
