package depquant

// FracBitsAccess is the boundary to the surrounding entropy coder:
// a snapshot of its current probability state, expressed as
// fixed-point fractional bit costs (Q(scaleBits)). The depquant core never
// touches CABAC state directly; it only ever asks this interface "what
// would it cost, right now, to code bin b in context ctx." The fracbits
// package provides one concrete implementation.
type FracBitsAccess interface {
	// SigFlagBits returns the cost of coding the significance flag as
	// {0,1} for context id ctxID within ctx set ctxSetID (0, 1 or 2 — the
	// DQ states split into three significance-flag context sets per
	// channel).
	SigFlagBits(ctxSetID, ctxID int) [2]int64

	// ParFlagBits, Gt1FlagBits, Gt2FlagBits return the cost of coding the
	// parity, greater-than-1, and greater-than-3 remainder bins as {0,1}
	// for ctxID. xSetGtxFlagBits combines the three into one six-way
	// coefficient magnitude-class cost table.
	ParFlagBits(ctxID int) [2]int64
	Gt1FlagBits(ctxID int) [2]int64
	Gt2FlagBits(ctxID int) [2]int64

	// SigSbbFracBits returns the cost of coding the sub-block
	// significance flag as {0,1} for the given context id (0 or 1,
	// selecting on whether a right/below neighbour sub-block is coded).
	SigSbbFracBits(ctxID int) [2]int64

	// LastXFracBits / LastYFracBits return the cost of one last
	// significant coefficient position prefix bin as {0,1}, indexed by
	// prefix context id, for the horizontal and vertical axes.
	LastXFracBits(ctxID int) [2]int64
	LastYFracBits(ctxID int) [2]int64
}

// BinFracBits is a {cost of 0, cost of 1} pair in Q(scaleBits).
type BinFracBits struct {
	Bits [2]int64
}

// CoeffFracBits is the six-way combined cost of coding a coefficient's
// magnitude class (0, 1, 2, 3, and the two >=4 cosets selected by parity),
// mirroring xSetGtxFlagBits's bits[0..5] table.
type CoeffFracBits struct {
	Bits [6]int64
}

// RateEstimator denormalizes a FracBitsAccess snapshot into per-context
// cost tables, mirroring vvenc's RateEstimator::initCtx and its
// xSetSigSbbFracBits / xSetSigFlagBits / xSetGtxFlagBits /
// xSetLastCoeffOffset helpers. Built once per (TUParameters, FracBitsAccess)
// pair and consumed by the trellis for the whole block; the trellis looks
// up a scan position's actual context id at decode time (sigCtxOffsetNext/
// gtxCtxOffsetNext plus a neighbourhood-dependent bucket), not here.
type RateEstimator struct {
	tu *TUParameters
	fb FracBitsAccess

	sbb0, sbb1 BinFracBits

	sigFracBits [numCtxSetsSig][]BinFracBits
	gtxFracBits []CoeffFracBits

	lastBitsX, lastBitsY []int64

	cbfDeltaBits int64
}

// NewRateEstimator builds the per-context cost tables for one transform
// block shape/channel, given a live FracBitsAccess snapshot. cbfDeltaBits is
// the extra cost (in Q(scaleBits)) of signalling a nonzero coded-block
// flag, folded into the Y-axis last-position cost table exactly as
// xSetLastCoeffOffset's bitOffset term.
func NewRateEstimator(tu *TUParameters, fb FracBitsAccess, cbfDeltaBits int64) *RateEstimator {
	re := &RateEstimator{tu: tu, fb: fb, cbfDeltaBits: cbfDeltaBits}
	re.sbb0 = BinFracBits{Bits: fb.SigSbbFracBits(0)}
	re.sbb1 = BinFracBits{Bits: fb.SigSbbFracBits(1)}
	re.initSigGtx()
	re.lastBitsX = re.buildLastBits(tu.Width, 0, 0)
	re.lastBitsY = re.buildLastBits(tu.Height, cbfDeltaBits, 1)
	return re
}

// initSigGtx, ported from xSetSigFlagBits/xSetGtxFlagBits: builds the whole
// per-context-id table once, for every context a position in this TU shape
// could ever resolve to (12 sig / 21 gtx contexts for luma, 8/11 for
// chroma), rather than resolving per scan position the way a naive port
// would.
func (re *RateEstimator) initSigGtx() {
	numSig, numGtx := 12, 21
	if re.tu.Channel == ChannelChroma {
		numSig, numGtx = 8, 11
	}
	for set := 0; set < numCtxSetsSig; set++ {
		re.sigFracBits[set] = make([]BinFracBits, numSig)
		for ctxID := 0; ctxID < numSig; ctxID++ {
			re.sigFracBits[set][ctxID] = BinFracBits{Bits: re.fb.SigFlagBits(set, ctxID)}
		}
	}

	re.gtxFracBits = make([]CoeffFracBits, numGtx)
	for ctxID := 0; ctxID < numGtx; ctxID++ {
		par := re.fb.ParFlagBits(ctxID)
		gt1 := re.fb.Gt1FlagBits(ctxID)
		gt2 := re.fb.Gt2FlagBits(ctxID)
		par0 := scaleOne + par[0]
		par1 := scaleOne + par[1]
		var cb CoeffFracBits
		cb.Bits[0] = 0
		cb.Bits[1] = gt1[0] + scaleOne
		cb.Bits[2] = gt1[1] + par0 + gt2[0]
		cb.Bits[3] = gt1[1] + par1 + gt2[0]
		cb.Bits[4] = gt1[1] + par0 + gt2[1]
		cb.Bits[5] = gt1[1] + par1 + gt2[1]
		re.gtxFracBits[ctxID] = cb
	}
}

// buildLastBits, ported from xSetLastCoeffOffset: a running sum of
// already-committed prefix-bin costs plus the per-group suffix-bit
// continuation cost VVC's last-position binarization spends past context
// id 3, precomputed per axis coordinate so the trellis's per-position
// lookup (LastOffset) is an O(1) array read.
func (re *RateEstimator) buildLastBits(size int, deltaBits int64, axis int) []int64 {
	log2Size := log2i(size)
	var lastShift, lastOffset int
	if re.tu.Channel == ChannelLuma {
		lastShift = (log2Size + 1) >> 2
		lastOffset = lastPrefixCtxAt(log2Size)
	} else {
		lastShift = clipI(0, 2, size>>3)
	}

	fetch := re.fb.LastXFracBits
	if axis == 1 {
		fetch = re.fb.LastYFracBits
	}

	maxCtxID := groupIdx[minI(zeroOutThreshold, size)-1]
	ctxBits := make([]int64, maxCtxID+1)
	sumFBits := int64(0)
	for ctxID := 0; ctxID < maxCtxID; ctxID++ {
		bits := fetch(lastOffset + (ctxID >> uint(lastShift)))
		extra := int64(0)
		if ctxID > 3 {
			extra = int64((ctxID-2)>>1) * scaleOne
		}
		ctxBits[ctxID] = sumFBits + bits[0] + extra + deltaBits
		sumFBits += bits[1]
	}
	extra := int64(0)
	if maxCtxID > 3 {
		extra = int64((maxCtxID-2)>>1) * scaleOne
	}
	ctxBits[maxCtxID] = sumFBits + extra + deltaBits

	out := make([]int64, minI(zeroOutThreshold, size))
	for pos := range out {
		out[pos] = ctxBits[groupIdx[pos]]
	}
	return out
}

func lastPrefixCtxAt(g int) int {
	if g < len(lastPrefixCtx) {
		return lastPrefixCtx[g]
	}
	return lastPrefixCtx[len(lastPrefixCtx)-1]
}

// LastOffset returns the combined X+Y cost of signalling the coefficient at
// scanIdx as the block's last (highest scan order) significant one,
// mirroring vvenc's lastOffset(scanIdx) helper. The trellis consumes it at
// every scan position it visits, through checkRdCostStart, since any
// position can be the last significant one.
func (re *RateEstimator) LastOffset(scanIdx int) int64 {
	si := re.tu.ScanInfo[scanIdx]
	return re.LastBitsX(si.PosX) + re.LastBitsY(si.PosY)
}

// LastBitsX / LastBitsY return the precomputed per-position last-coefficient
// cost along one axis.
func (re *RateEstimator) LastBitsX(pos int) int64 {
	return re.lastBitsX[minI(pos, len(re.lastBitsX)-1)]
}

func (re *RateEstimator) LastBitsY(pos int) int64 {
	return re.lastBitsY[minI(pos, len(re.lastBitsY)-1)]
}

// SigSbbCost returns the {0,1} cost of the sub-block significance flag for
// context id 0 (no already-coded neighbour sub-block) or 1 (at least one
// neighbour sub-block already coded significant).
func (re *RateEstimator) SigSbbCost(ctxID int) BinFracBits {
	if ctxID == 0 {
		return re.sbb0
	}
	return re.sbb1
}

// sigFlagBits returns the whole significance-flag context-id table for the
// ctx set a given DQ state reads from: states 0 and 1 share set 0, state 2
// reads set 1, state 3 reads set 2.
func (re *RateEstimator) sigFlagBits(stateID int) []BinFracBits {
	return re.sigFracBits[maxI(0, stateID-1)]
}

// gtxFracBitsAll returns the whole combined coefficient-cost context-id
// table, shared by every DQ state.
func (re *RateEstimator) gtxFracBitsAll() []CoeffFracBits {
	return re.gtxFracBits
}
