package depquant

// xDecide scores every candidate hypothesis at one scan position against
// the 8-wide decision bank that position starts from (startDecisions),
// mirroring vvenc's DepQuant xDecide dispatch between the
// near-zero, regular, and zeroed-out-region cases.
func xDecide(si ScanInfo, absCoeff, lastOffset int64, zeroOut bool, quantCoeff int64, prevStates, skipStates [4]*state, startState *state, qb QuantBlock) [8]Decision {
	dec := startDecisions

	if zeroOut {
		if si.SPT == ScanEndOfSbb {
			for k := 0; k < 4; k++ {
				skipStates[k].checkRdCostSkipSbbZeroOut(&dec[k])
			}
		}
		return dec
	}

	near0, pq := qb.PreQuantCoeff(absCoeff, quantCoeff)

	if near0 {
		prevStates[0].checkRdCostsOdd1(si.SPT, pq[2], &dec[2], &dec[0])
		prevStates[1].checkRdCostsOdd1(si.SPT, pq[2], &dec[0], &dec[2])
		prevStates[2].checkRdCostsOdd1(si.SPT, pq[1], &dec[3], &dec[1])
		prevStates[3].checkRdCostsOdd1(si.SPT, pq[1], &dec[1], &dec[3])
		startState.checkRdCostStart(lastOffset, pq[2], &dec[2])
	} else {
		if pq[0].AbsLevel >= 4 || pq[2].AbsLevel >= 4 {
			prevStates[0].setRiceParam(si)
			prevStates[1].setRiceParam(si)
		}
		if pq[1].AbsLevel >= 4 || pq[3].AbsLevel >= 4 {
			prevStates[2].setRiceParam(si)
			prevStates[3].setRiceParam(si)
		}

		prevStates[0].checkRdCosts(si.SPT, pq[0], pq[2], &dec[0], &dec[2])
		prevStates[1].checkRdCosts(si.SPT, pq[0], pq[2], &dec[2], &dec[0])
		prevStates[2].checkRdCosts(si.SPT, pq[3], pq[1], &dec[1], &dec[3])
		prevStates[3].checkRdCosts(si.SPT, pq[3], pq[1], &dec[3], &dec[1])
		startState.checkRdCostStart(lastOffset, pq[0], &dec[0])
		startState.checkRdCostStart(lastOffset, pq[2], &dec[2])
	}

	if si.SPT == ScanEndOfSbb {
		for k := 0; k < 4; k++ {
			skipStates[k].checkRdCostSkipSbb(&dec[k])
		}
	}

	return dec
}

// trellisBufs is the per-Driver working storage of the trellis: the 12
// rotated states plus the dedicated start state, the shared CommonCtx
// banks, and the decision rows. All of it is reused across calls — the
// buffers grow to the largest shape seen and then stay allocation-free,
// which is also why one Driver serves exactly one producer at a time.
type trellisBufs struct {
	all   [12]*state
	start *state
	cc    commonCtx
	dec   [][8]Decision
	lvl   []int64
	abs   []int64
}

func newTrellisBufs() *trellisBufs {
	tb := &trellisBufs{start: newState(0)}
	for k := range tb.all {
		tb.all[k] = newState(k % 4)
	}
	return tb
}

// runTrellis folds the rate-distortion trellis over one transform block in
// *reverse* scan order (highest scan index, i.e. firstTestPos, down to 0),
// the direction the coefficient-coding pass actually runs in: every
// position's decision is conditioned on the (higher-frequency) positions
// still to come in scan order but already resolved in fold order. It
// returns the winning |level| at every scan index (not raster position —
// the caller remaps) and the scan index of the last (highest-scanIdx)
// nonzero level, or -1 if the whole block quantizes to zero. The returned
// level slice aliases bufs and is only valid until the next call.
func runTrellis(tu *TUParameters, re *RateEstimator, absCoeffs []int64, firstTestPos int, zeroOutFn func(posX, posY int) bool, quantAt func(rasterPos int) (QuantBlock, int64), effWidth, effHeight int, bufs *trellisBufs) (absLevelsByScan []int64, lastScanIdx int) {
	n := tu.NumCoeff
	for _, s := range bufs.all {
		s.attach(re)
		s.effWidth, s.effHeight = effWidth, effHeight
		s.init()
	}
	curr := [4]*state{bufs.all[0], bufs.all[1], bufs.all[2], bufs.all[3]}
	prev := [4]*state{bufs.all[4], bufs.all[5], bufs.all[6], bufs.all[7]}
	skip := [4]*state{bufs.all[8], bufs.all[9], bufs.all[10], bufs.all[11]}

	start := bufs.start
	start.attach(re)
	start.effWidth, start.effHeight = effWidth, effHeight
	start.init()

	cc := &bufs.cc
	cc.reset(tu, re)

	if cap(bufs.dec) < n {
		bufs.dec = make([][8]Decision, n)
	}
	decisions := bufs.dec[:n]

	for scanIdx := firstTestPos; scanIdx >= 0; scanIdx-- {
		si := tu.ScanInfo[scanIdx]
		curr, prev = prev, curr

		zeroOut := zeroOutFn(si.PosX, si.PosY)
		qb, quantCoeff := quantAt(si.RasterPos)
		dec := xDecide(si, absCoeffs[si.RasterPos], re.LastOffset(scanIdx), zeroOut, quantCoeff, prev, skip, start, qb)
		decisions[scanIdx] = dec

		if scanIdx != 0 {
			switch {
			case si.InsidePos == 0:
				cc.swap()
				for k := 0; k < 4; k++ {
					curr[k].updateStateEOS(si, prev, skip, cc, dec[k])
				}
				decisions[scanIdx] = [8]Decision{dec[0], dec[1], dec[2], dec[3], dec[0], dec[1], dec[2], dec[3]}
			case !zeroOut:
				for k := 0; k < 4; k++ {
					curr[k].updateState(si, prev, dec[k])
				}
			}
			if si.SPT == ScanStartOfSbb {
				prev, skip = skip, prev
			}
		}
	}

	bestCost := int64(0)
	bestPrevID := -2
	for stateID := 0; stateID < 4; stateID++ {
		if decisions[0][stateID].RdCost < bestCost {
			bestCost = decisions[0][stateID].RdCost
			bestPrevID = stateID
		}
	}

	if cap(bufs.lvl) < n {
		bufs.lvl = make([]int64, n)
	}
	absLevels := bufs.lvl[:n]
	for i := range absLevels {
		absLevels[i] = 0
	}
	lastScanIdx = -1
	scanIdx := 0
	prevID := bestPrevID
	for prevID >= 0 {
		dec := decisions[scanIdx][prevID]
		absLevels[scanIdx] = dec.AbsLevel
		if dec.AbsLevel != 0 {
			lastScanIdx = scanIdx
		}
		prevID = dec.PrevID
		scanIdx++
	}

	return absLevels, lastScanIdx
}
