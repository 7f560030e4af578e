package depquant

// Decision is one surviving hypothesis the trellis writes at a scan
// position: the best rate-distortion cost of reaching a given "arrival
// slot" (0-3: a live DQ state; 4-7: a skip-sub-block placeholder aliasing
// slot prevId&3), the chosen |level|, and which slot of the *next* scan
// position (in back-trace order, i.e. the previously processed position)
// the winning path continues from. PrevID of -1 marks "this position is
// the highest-frequency significant coefficient," -2 marks "unreachable."
type Decision struct {
	RdCost   int64
	AbsLevel int64
	PrevID   int
}

// rdCostInit is the trellis's "effectively infinite" sentinel cost, sized
// like vvenc's numeric_limits<int64>::max()>>2 so that adding a
// real delta distortion/rate term can never overflow.
const rdCostInit = int64(1) << 61

// startDecisions seeds every scan position's 8-wide decision bank before
// checkRdCosts*/checkRdCostSkipSbb* run: slots 0-3 start unreachable, slots
// 4-7 start as "arrived here via skip-state k" links with level 0 and the
// sentinel cost, which is never compared (the cost of actually skipping a
// whole sub-block is added at the sub-block's own END_OF_SBB position).
var startDecisions = [8]Decision{
	{rdCostInit, -1, -2}, {rdCostInit, -1, -2}, {rdCostInit, -1, -2}, {rdCostInit, -1, -2},
	{rdCostInit, 0, 4}, {rdCostInit, 0, 5}, {rdCostInit, 0, 6}, {rdCostInit, 0, 7},
}

// ctxAcc is one inside-sub-block position's running neighbourhood
// accumulator: tplAcc packs the capped count of significant neighbours
// (high 3 bits) and a capped sum of their levels (low 5 bits, used to pick
// the significance/greater-than context bucket); sumAbs is a separately
// capped, wider running sum used once remRegBins drops below the regular
// CABAC-context bin budget and the state falls back to raw Golomb-Rice.
type ctxAcc struct {
	tplAcc uint8
	sumAbs uint8
}

// sbbBank is one CommonCtx generation's per-state scratch: which
// sub-blocks were found significant so far, and the reconstructed |level|
// of every coefficient visited so far — sbbFlags indexed by sub-block raster
// position, levels by scan index, the way vvenc's flat per-state SbbCtx
// buffers are.
type sbbBank struct {
	sbbFlags []bool
	levels   []uint8
}

// commonCtx is the cross-sub-block state CommonCtx::update threads through
// the trellis. Every state gets its own generation of scratch banks
// (indexed 0-7, split into a "current" and "previous" half that swap each
// time a sub-block boundary is crossed, mirroring vvenc's
// pointer-swapped m_currSbbCtx/m_prevSbbCtx). Once a sub-block's lowest
// scan-index position resolves, update snapshots which states found that
// sub-block significant and rebuilds the neighbourhood template every live
// state needs for the next (lower scan-index) sub-block's significance and
// Golomb-Rice context.
type commonCtx struct {
	nbInfo      []NbInfoOut
	sbbFlagBits [2]BinFracBits
	banks       [8]sbbBank
	currBase    int
	prevBase    int
}

// reset rebinds the context to one block's tables, growing the bank
// buffers only when a larger shape than any seen before comes through.
func (c *commonCtx) reset(tu *TUParameters, re *RateEstimator) {
	c.nbInfo = tu.NbOut
	c.sbbFlagBits = [2]BinFracBits{re.sbb0, re.sbb1}
	for k := range c.banks {
		b := &c.banks[k]
		if cap(b.sbbFlags) < tu.NumSbb {
			b.sbbFlags = make([]bool, tu.NumSbb)
		} else {
			b.sbbFlags = b.sbbFlags[:tu.NumSbb]
		}
		if cap(b.levels) < tu.NumCoeff {
			b.levels = make([]uint8, tu.NumCoeff)
		} else {
			b.levels = b.levels[:tu.NumCoeff]
		}
	}
	c.currBase, c.prevBase = 0, 4
}

func (c *commonCtx) swap() { c.currBase, c.prevBase = c.prevBase, c.currBase }

// update rebuilds cur's neighbourhood template for the sub-block about to
// be entered (the one spanning [si.ScanIdx-si.SbbSize, si.ScanIdx)), given
// which predecessor generation (if any) cur's winning path continues from.
// Ported from CommonCtx::update.
func (c *commonCtx) update(si ScanInfo, prevRefSbbCtxID int8, cur *state) {
	bank := &c.banks[c.currBase+int(cur.stateID)]
	setCpSize := 0
	if si.ScanIdx > 0 {
		setCpSize = c.nbInfo[si.ScanIdx-1].MaxDist
	}
	if prevRefSbbCtxID >= 0 {
		src := &c.banks[c.prevBase+int(prevRefSbbCtxID)]
		copy(bank.sbbFlags, src.sbbFlags)
		if si.ScanIdx+setCpSize <= len(bank.levels) {
			copy(bank.levels[si.ScanIdx:si.ScanIdx+setCpSize], src.levels[si.ScanIdx:si.ScanIdx+setCpSize])
		}
	} else {
		for i := range bank.sbbFlags {
			bank.sbbFlags[i] = false
		}
		for i := si.ScanIdx; i < si.ScanIdx+setCpSize && i < len(bank.levels); i++ {
			bank.levels[i] = 0
		}
	}
	bank.sbbFlags[si.SbbPos] = cur.numSigSbb != 0
	for i := 0; i < si.SbbSize; i++ {
		bank.levels[si.ScanIdx+i] = cur.absLevels[i]
	}

	sigNSbb := false
	if si.NextSbbRight != 0 && bank.sbbFlags[si.NextSbbRight] {
		sigNSbb = true
	}
	if si.NextSbbBelow != 0 && bank.sbbFlags[si.NextSbbBelow] {
		sigNSbb = true
	}

	cur.numSigSbb = 0
	cur.goRicePar = 0
	cur.refSbbCtxID = cur.stateID
	if sigNSbb {
		cur.sbbFracBits = c.sbbFlagBits[1]
	} else {
		cur.sbbFracBits = c.sbbFlagBits[0]
	}
	cur.absLevels = [16]uint8{}
	cur.ctx = [16]ctxAcc{}

	extraSig := si.NextSbbRight != 0 && si.NextSbbBelow != 0 && bank.sbbFlags[si.NextSbbBelow+1]
	if !(sigNSbb || extraSig) {
		return
	}

	scanBeg := si.ScanIdx - si.SbbSize
	for id := 0; id < si.SbbSize; id++ {
		nb := c.nbInfo[scanBeg+id]
		if nb.Num == 0 {
			continue
		}
		sumAbs, sumAbs1, sumNum := 0, 0, 0
		for k := 0; k < nb.Num; k++ {
			t := int(bank.levels[scanBeg+int(nb.OutPos[k])])
			sumAbs += t
			sumAbs1 += minI(4+(t&1), t)
			if t != 0 {
				sumNum++
			}
		}
		cur.ctx[id].tplAcc = uint8((sumNum << 5) | minI(31, sumAbs1))
		cur.ctx[id].sumAbs = uint8(minI(127, sumAbs))
	}
}

// regBinCost is the "min(absLevel,3)" charge applied every time
// remRegBins is charged for coding one more coefficient.
func regBinCost(absLevel int64) int {
	if absLevel < 3 {
		return int(absLevel)
	}
	return 3
}

func adds8(a, b uint8) uint8 {
	s := a + b
	if s < a {
		return 255
	}
	return s
}

// state is one of the trellis's 4 live DQ-state hypotheses (or the
// dedicated start/skip roles, which reuse the same type). Fields and
// methods mirror vvenc's State class: a running rd cost, the
// reconstructed-level history and neighbourhood accumulator for the
// sub-block currently in progress, the regular-bin budget that switches
// between CABAC-context-coded and bypass Golomb-Rice coding, and the
// per-context cost tables resolved for whichever position comes next.
type state struct {
	stateID int8

	rdCost    int64
	absLevels [16]uint8
	ctx       [16]ctxAcc

	numSigSbb   int8
	remRegBins  int
	refSbbCtxID int8
	sbbFracBits BinFracBits

	sigFracBits   BinFracBits
	coeffFracBits CoeffFracBits
	goRicePar     int8
	goRiceZero    int8

	sigFracBitsArray []BinFracBits
	gtxFracBitsArray []CoeffFracBits

	effWidth, effHeight int
}

func newState(stateID int) *state {
	return &state{stateID: int8(stateID)}
}

// attach rebinds the state to one block's rate tables; must precede init.
func (s *state) attach(re *RateEstimator) {
	s.sigFracBitsArray = re.sigFlagBits(int(s.stateID))
	s.gtxFracBitsArray = re.gtxFracBitsAll()
}

// init resets a state to the "nothing decided yet" condition, mirroring
// State::init.
func (s *state) init() {
	s.rdCost = rdCostInit
	s.numSigSbb = 0
	s.remRegBins = 4
	s.refSbbCtxID = -1
	s.sigFracBits = s.sigFracBitsArray[0]
	s.coeffFracBits = s.gtxFracBitsArray[0]
	s.goRicePar = 0
	s.goRiceZero = 0
	s.absLevels = [16]uint8{}
	s.ctx = [16]ctxAcc{}
}

// setRiceParam derives the Golomb-Rice parameter for the remainder of a
// level >= 4 at position si from that position's neighbourhood sum less 20,
// while remRegBins is still in the regular-coded regime; in the bypass
// regime it leaves the parameter resolveNext chose untouched. Ported from
// State::setRiceParam.
func (s *state) setRiceParam(si ScanInfo) {
	if s.remRegBins < 4 {
		return
	}
	sumAbs := int(s.ctx[si.InsidePos].sumAbs) - 20
	if sumAbs < 0 {
		sumAbs = 0
	}
	if sumAbs > 31 {
		sumAbs = 31
	}
	s.goRicePar = goRiceParsCoeff[sumAbs]
}

// checkRdCosts scores the A/B candidate cosets (one pair of parity-linked
// levels) against the Z (zero) hypothesis and folds each into the
// destination decision slots, ported from State::checkRdCosts.
func (s *state) checkRdCosts(spt ScanPosType, pqA, pqB PQData, decA, decB *Decision) {
	goRiceTab := goRiceBits[s.goRicePar]
	rdCostA := s.rdCost + pqA.DeltaDist
	rdCostB := s.rdCost + pqB.DeltaDist
	rdCostZ := s.rdCost

	if s.remRegBins >= 4 {
		if pqA.AbsLevel < 4 {
			rdCostA += s.coeffFracBits.Bits[pqA.AbsLevel]
		} else {
			value := (pqA.AbsLevel - 4) >> 1
			rdCostA += s.coeffFracBits.Bits[pqA.AbsLevel-(value<<1)] + goRiceTab[min64(value, riceMax-1)]
		}
		if pqB.AbsLevel < 4 {
			rdCostB += s.coeffFracBits.Bits[pqB.AbsLevel]
		} else {
			value := (pqB.AbsLevel - 4) >> 1
			rdCostB += s.coeffFracBits.Bits[pqB.AbsLevel-(value<<1)] + goRiceTab[min64(value, riceMax-1)]
		}

		switch {
		case spt == ScanInSbb:
			rdCostA += s.sigFracBits.Bits[1]
			rdCostB += s.sigFracBits.Bits[1]
			rdCostZ += s.sigFracBits.Bits[0]
		case spt == ScanStartOfSbb:
			rdCostA += s.sbbFracBits.Bits[1] + s.sigFracBits.Bits[1]
			rdCostB += s.sbbFracBits.Bits[1] + s.sigFracBits.Bits[1]
			rdCostZ += s.sbbFracBits.Bits[1] + s.sigFracBits.Bits[0]
		case s.numSigSbb != 0:
			rdCostA += s.sigFracBits.Bits[1]
			rdCostB += s.sigFracBits.Bits[1]
			rdCostZ += s.sigFracBits.Bits[0]
		default:
			rdCostZ = decA.RdCost
		}
	} else {
		rdCostA += scaleOne + goRiceTab[riceBypassIdx(pqA.AbsLevel, s.goRiceZero)]
		rdCostB += scaleOne + goRiceTab[riceBypassIdx(pqB.AbsLevel, s.goRiceZero)]
		rdCostZ += goRiceTab[s.goRiceZero]
	}

	if rdCostA < rdCostZ && rdCostA < decA.RdCost {
		decA.RdCost, decA.AbsLevel, decA.PrevID = rdCostA, pqA.AbsLevel, int(s.stateID)
	} else if rdCostZ < decA.RdCost {
		decA.RdCost, decA.AbsLevel, decA.PrevID = rdCostZ, 0, int(s.stateID)
	}
	if rdCostB < decB.RdCost {
		decB.RdCost, decB.AbsLevel, decB.PrevID = rdCostB, pqB.AbsLevel, int(s.stateID)
	}
}

func riceBypassIdx(absLevel int64, goRiceZero int8) int64 {
	if absLevel <= int64(goRiceZero) {
		return absLevel - 1
	}
	return min64(absLevel, riceMax-1)
}

// checkRdCostsOdd1 is checkRdCosts's near-zero specialization: only one
// nonzero coset (absLevel==1) is live, competing against Z.
func (s *state) checkRdCostsOdd1(spt ScanPosType, pqA PQData, decA, decZ *Decision) {
	goRiceTab := goRiceBits[s.goRicePar]
	rdCostA := s.rdCost + pqA.DeltaDist
	rdCostZ := s.rdCost

	if s.remRegBins >= 4 {
		rdCostA += s.coeffFracBits.Bits[1]
		switch {
		case spt == ScanInSbb:
			rdCostA += s.sigFracBits.Bits[1]
			rdCostZ += s.sigFracBits.Bits[0]
		case spt == ScanStartOfSbb:
			rdCostA += s.sbbFracBits.Bits[1] + s.sigFracBits.Bits[1]
			rdCostZ += s.sbbFracBits.Bits[1] + s.sigFracBits.Bits[0]
		case s.numSigSbb != 0:
			rdCostA += s.sigFracBits.Bits[1]
			rdCostZ += s.sigFracBits.Bits[0]
		default:
			rdCostZ = decZ.RdCost
		}
	} else {
		rdCostA += scaleOne + goRiceTab[riceBypassIdx(1, s.goRiceZero)]
		rdCostZ += goRiceTab[s.goRiceZero]
	}

	if rdCostA < decA.RdCost {
		decA.RdCost, decA.AbsLevel, decA.PrevID = rdCostA, 1, int(s.stateID)
	}
	if rdCostZ < decZ.RdCost {
		decZ.RdCost, decZ.AbsLevel, decZ.PrevID = rdCostZ, 0, int(s.stateID)
	}
}

// checkRdCostStart scores this state as the start of the whole block's
// significant run: dec accumulates the lastOffset cost of signalling this
// scan position as the highest-frequency significant coefficient.
func (s *state) checkRdCostStart(lastOffset int64, pq PQData, dec *Decision) {
	rdCost := pq.DeltaDist + lastOffset
	if pq.AbsLevel < 4 {
		rdCost += s.coeffFracBits.Bits[pq.AbsLevel]
	} else {
		value := (pq.AbsLevel - 4) >> 1
		rdCost += s.coeffFracBits.Bits[pq.AbsLevel-(value<<1)] + goRiceBits[s.goRicePar][min64(value, riceMax-1)]
	}
	if rdCost < dec.RdCost {
		dec.RdCost, dec.AbsLevel, dec.PrevID = rdCost, pq.AbsLevel, -1
	}
}

// checkRdCostSkipSbb scores "skip the whole next sub-block" against
// whatever this position's own decision currently holds.
func (s *state) checkRdCostSkipSbb(dec *Decision) {
	rdCost := s.rdCost + s.sbbFracBits.Bits[0]
	if rdCost < dec.RdCost {
		dec.RdCost, dec.AbsLevel, dec.PrevID = rdCost, 0, 4|int(s.stateID)
	}
}

// checkRdCostSkipSbbZeroOut is the zero-out region's unconditional form:
// the whole sub-block is beyond the coded area, so skipping it always wins.
func (s *state) checkRdCostSkipSbbZeroOut(dec *Decision) {
	dec.RdCost = s.rdCost + s.sbbFracBits.Bits[0]
	dec.AbsLevel = 0
	dec.PrevID = 4 | int(s.stateID)
}

// updateState folds a chosen Decision back into the live state it produced,
// for every scan position except a sub-block's lowest one, insidePos 0 (that
// case goes through updateStateEOS instead, since only there does the
// cross-sub-block CommonCtx need rebuilding). Ported from State::updateState.
func (s *state) updateState(si ScanInfo, prevStates [4]*state, dec Decision) {
	s.rdCost = dec.RdCost
	if dec.PrevID <= -2 {
		return
	}

	if dec.PrevID >= 0 {
		prv := prevStates[dec.PrevID]
		s.numSigSbb = prv.numSigSbb
		if dec.AbsLevel != 0 {
			s.numSigSbb++
		}
		s.refSbbCtxID = prv.refSbbCtxID
		s.sbbFracBits = prv.sbbFracBits
		s.remRegBins = prv.remRegBins - 1
		if s.remRegBins >= 4 {
			s.remRegBins -= regBinCost(dec.AbsLevel)
		}
		s.absLevels = prv.absLevels
		s.ctx = prv.ctx
	} else {
		s.numSigSbb = 1
		s.refSbbCtxID = -1
		s.remRegBins = (s.effWidth*s.effHeight*maxTULevelCtxCodedBinConstraint)/16 - regBinCost(dec.AbsLevel)
		s.absLevels = [16]uint8{}
		s.ctx = [16]ctxAcc{}
	}

	if dec.AbsLevel != 0 {
		s.absLevels[si.InsidePos] = uint8(min64(254+(dec.AbsLevel&1), dec.AbsLevel))
		if si.CurrNbInfoSbb.NumInv > 0 {
			addend := uint8(min64(4+(dec.AbsLevel&1), dec.AbsLevel))
			levelCap := uint8(min64(dec.AbsLevel, 255))
			for k := 0; k < si.CurrNbInfoSbb.NumInv; k++ {
				idx := si.CurrNbInfoSbb.InvInPos[k]
				c := &s.ctx[idx]
				c.tplAcc += 32 + addend
				c.sumAbs = adds8(c.sumAbs, levelCap)
			}
		}
	}

	s.resolveNext(si)
}

// updateStateEOS is updateState's sub-block-terminal specialization: it
// folds the decision in using only the absLevels history (not ctx, which
// the about-to-be-entered sub-block doesn't share with this one), then asks
// the shared CommonCtx to rebuild the ctx accumulator for the next
// sub-block before resolving this state's next-position cost tables.
// Ported from State::updateStateEOS.
func (s *state) updateStateEOS(si ScanInfo, prevStates, skipStates [4]*state, cc *commonCtx, dec Decision) {
	s.rdCost = dec.RdCost
	if dec.PrevID <= -2 {
		return
	}

	var prevRefSbbCtxID int8 = -1
	switch {
	case dec.PrevID >= 4:
		prv := skipStates[dec.PrevID-4]
		s.numSigSbb = 0
		s.remRegBins = prv.remRegBins
		s.absLevels = [16]uint8{}
		prevRefSbbCtxID = prv.refSbbCtxID
	case dec.PrevID >= 0:
		prv := prevStates[dec.PrevID]
		s.numSigSbb = prv.numSigSbb
		if dec.AbsLevel != 0 {
			s.numSigSbb++
		}
		s.remRegBins = prv.remRegBins - 1
		if s.remRegBins >= 4 {
			s.remRegBins -= regBinCost(dec.AbsLevel)
		}
		s.absLevels = prv.absLevels
		prevRefSbbCtxID = prv.refSbbCtxID
	default:
		s.numSigSbb = 1
		s.remRegBins = (s.effWidth * s.effHeight * maxTULevelCtxCodedBinConstraint) / 16
		if s.remRegBins >= 4 {
			s.remRegBins -= regBinCost(dec.AbsLevel)
		}
		s.absLevels = [16]uint8{}
	}

	s.absLevels[si.InsidePos] = uint8(min64(254+(dec.AbsLevel&1), dec.AbsLevel))

	cc.update(si, prevRefSbbCtxID, s)

	s.resolveNext(si)
}

// resolveNext picks the cost tables the *next* scan position will need:
// the regular regime's sig/gtx context bucket, derived from the
// neighbourhood accumulator, or the bypass regime's Golomb-Rice parameter.
func (s *state) resolveNext(si ScanInfo) {
	if s.remRegBins >= 4 {
		acc := s.ctx[si.NextInsidePos]
		sumAbs1 := int64(acc.tplAcc & 31)
		sumNum := int64(acc.tplAcc >> 5)
		sumGt1 := sumAbs1 - sumNum
		s.sigFracBits = s.sigFracBitsArray[si.SigCtxOffsetNext+int(min64((sumAbs1+1)>>1, 3))]
		s.coeffFracBits = s.gtxFracBitsArray[si.GtxCtxOffsetNext+int(min64(sumGt1, 4))]
	} else {
		sumAbs := min64(int64(s.ctx[si.NextInsidePos].sumAbs), 31)
		s.goRicePar = goRiceParsCoeff[sumAbs]
		s.goRiceZero = goRicePosCoeff0(int(s.stateID), s.goRicePar)
	}
}
