package depquant

import (
	"testing"

	"github.com/vvenc-go/depquant/fracbits"
	"github.com/vvenc-go/depquant/util"
)

func newTestDriver(rdoq bool) (*Driver, *fracbits.Model) {
	rom := NewRom()
	d := NewDriver(rom, Config{UseRdoq: rdoq, DqThresholdValue: 8})
	return d, fracbits.NewModel()
}

func testBlock(width, height, qp int, lambda float64) Block {
	return Block{Width: width, Height: height, Channel: ChannelLuma, QP: qp, Lambda: lambda}
}

// checkOutputs asserts the contract every Quant call must satisfy: absSum
// matches the levels, lastPos is the highest scan index holding a nonzero
// level (or -1), and nonzero levels carry the source sign.
func checkOutputs(t *testing.T, d *Driver, blk Block, src, levels []int64, absSum int64, lastPos int) {
	t.Helper()
	tu := d.rom.TUParams(blk.Width, blk.Height, blk.Channel)
	sum := int64(0)
	wantLast := -1
	for scanIdx, si := range tu.ScanInfo {
		l := levels[si.RasterPos]
		if l == 0 {
			continue
		}
		sum += util.Abs(l)
		wantLast = scanIdx
		if (l > 0) != (src[si.RasterPos] > 0) {
			t.Fatalf("scan %d: level %d contradicts source sign %d", scanIdx, l, src[si.RasterPos])
		}
	}
	if absSum != sum {
		t.Fatalf("absSum = %d, want %d (sum of |levels|)", absSum, sum)
	}
	if lastPos != wantLast {
		t.Fatalf("lastPos = %d, want %d", lastPos, wantLast)
	}
}

func TestQuantAllZeroBlock(t *testing.T) {
	d, m := newTestDriver(true)
	blk := testBlock(4, 4, 32, 50.0)
	levels, absSum, lastPos, err := d.Quant(blk, make([]int64, 16), m)
	if err != nil {
		t.Fatalf("Quant: %v", err)
	}
	if lastPos != -1 || absSum != 0 {
		t.Fatalf("all-zero block: lastPos=%d absSum=%d, want -1 and 0", lastPos, absSum)
	}
	for i, l := range levels {
		if l != 0 {
			t.Fatalf("all-zero block: levels[%d] = %d, want 0", i, l)
		}
	}
}

func TestQuantSingleSpike(t *testing.T) {
	d, m := newTestDriver(true)
	blk := testBlock(4, 4, 32, 50.0)
	coeffs := make([]int64, 16)
	coeffs[0] = 1000
	levels, absSum, lastPos, err := d.Quant(blk, coeffs, m)
	if err != nil {
		t.Fatalf("Quant: %v", err)
	}
	if levels[0] == 0 {
		t.Fatal("expected the spiked coefficient to quantize to a nonzero level")
	}
	if lastPos != 0 {
		t.Fatalf("lastPos = %d, want 0 (DC is the only significant position)", lastPos)
	}
	if absSum != levels[0] {
		t.Fatalf("absSum = %d, want %d", absSum, levels[0])
	}
	checkOutputs(t, d, blk, coeffs, levels, absSum, lastPos)
}

func TestQuantDCBlock(t *testing.T) {
	d, m := newTestDriver(true)
	blk := testBlock(4, 4, 32, 50.0)
	coeffs := make([]int64, 16)
	for i := range coeffs {
		coeffs[i] = 500
	}
	levels, absSum, lastPos, err := d.Quant(blk, coeffs, m)
	if err != nil {
		t.Fatalf("Quant: %v", err)
	}
	if lastPos < -1 || lastPos > 15 {
		t.Fatalf("lastPos = %d out of range", lastPos)
	}
	checkOutputs(t, d, blk, coeffs, levels, absSum, lastPos)
}

func TestQuantDiagonalRamp8x8(t *testing.T) {
	d, m := newTestDriver(true)
	blk := testBlock(8, 8, 32, 50.0)
	coeffs := make([]int64, 64)
	for i := range coeffs {
		coeffs[i] = int64(100 * (i % 8))
	}
	levels, absSum, lastPos, err := d.Quant(blk, coeffs, m)
	if err != nil {
		t.Fatalf("Quant: %v", err)
	}
	if lastPos < -1 || lastPos > 63 {
		t.Fatalf("lastPos = %d out of range [-1, 63]", lastPos)
	}
	checkOutputs(t, d, blk, coeffs, levels, absSum, lastPos)
}

func TestQuantSignFlip(t *testing.T) {
	d, _ := newTestDriver(true)
	blk := testBlock(4, 4, 32, 50.0)
	pos := []int64{900, -300, 0, 1200, 0, 700, -2000, 0, 0, 450, 0, 0, -800, 0, 0, 600}
	neg := make([]int64, len(pos))
	for i, c := range pos {
		neg[i] = -c
	}

	lp, sp, pp, err := d.Quant(blk, pos, fracbits.NewModel())
	if err != nil {
		t.Fatalf("Quant(pos): %v", err)
	}
	ln, sn, pn, err := d.Quant(blk, neg, fracbits.NewModel())
	if err != nil {
		t.Fatalf("Quant(neg): %v", err)
	}
	if sp != sn || pp != pn {
		t.Fatalf("negating all inputs changed absSum/lastPos: (%d,%d) vs (%d,%d)", sp, pp, sn, pn)
	}
	for i := range lp {
		if lp[i] != -ln[i] {
			t.Fatalf("level %d: %d vs %d, want exact negation", i, lp[i], ln[i])
		}
	}
}

func TestQuantDeterministic(t *testing.T) {
	d, _ := newTestDriver(true)
	blk := testBlock(4, 4, 28, 15.0)
	coeffs := []int64{100, -2000, 3000, 0, 500, -500, 10000, 0, 0, 1000, -1000, 200, 300, 0, 0, 700}

	l1, s1, p1, err := d.Quant(blk, coeffs, fracbits.NewModel())
	if err != nil {
		t.Fatalf("Quant: %v", err)
	}
	l2, s2, p2, err := d.Quant(blk, coeffs, fracbits.NewModel())
	if err != nil {
		t.Fatalf("Quant: %v", err)
	}
	if p1 != p2 || s1 != s2 {
		t.Fatalf("nondeterministic outputs: lastPos %d vs %d, absSum %d vs %d", p1, p2, s1, s2)
	}
	for i := range l1 {
		if l1[i] != l2[i] {
			t.Fatalf("nondeterministic level at %d: %d vs %d", i, l1[i], l2[i])
		}
	}
}

func TestQuantDequantRoundTripShape(t *testing.T) {
	d, m := newTestDriver(true)
	blk := testBlock(8, 8, 26, 25.0)
	coeffs := make([]int64, 64)
	for i := range coeffs {
		coeffs[i] = int64(i*90 - 1000)
	}
	levels, absSum, lastPos, err := d.Quant(blk, coeffs, m)
	if err != nil {
		t.Fatalf("Quant: %v", err)
	}
	checkOutputs(t, d, blk, coeffs, levels, absSum, lastPos)
	recon, err := d.Dequant(blk, levels, lastPos)
	if err != nil {
		t.Fatalf("Dequant: %v", err)
	}
	if len(recon) != len(coeffs) {
		t.Fatalf("Dequant returned %d coefficients, want %d", len(recon), len(coeffs))
	}
	for i, l := range levels {
		if l == 0 && recon[i] != 0 {
			t.Fatalf("zero level at %d reconstructed to nonzero %d", i, recon[i])
		}
		if l != 0 && (recon[i] > 0) != (l > 0) {
			t.Fatalf("reconstruction sign mismatch at %d: level=%d recon=%d", i, l, recon[i])
		}
	}
}

func TestQuantZeroOutRegionBeyond32(t *testing.T) {
	d, m := newTestDriver(true)
	const n = 64
	blk := testBlock(n, n, 22, 30.0)
	coeffs := make([]int64, n*n)
	for i := range coeffs {
		coeffs[i] = int64(4000 + i%1700)
	}
	levels, absSum, lastPos, err := d.Quant(blk, coeffs, m)
	if err != nil {
		t.Fatalf("Quant: %v", err)
	}
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if x >= zeroOutThreshold || y >= zeroOutThreshold {
				if levels[y*n+x] != 0 {
					t.Fatalf("position (%d,%d) lies in the zeroed-out area beyond 32 but got a nonzero level", x, y)
				}
			}
		}
	}
	checkOutputs(t, d, blk, coeffs, levels, absSum, lastPos)
}

func TestQuant32x32MtsZeroOut(t *testing.T) {
	rom := NewRom()
	d := NewDriver(rom, Config{UseRdoq: true, DqThresholdValue: 8, ApplyZeroOutRegion: true})
	blk := testBlock(32, 32, 32, 50.0)
	coeffs := make([]int64, 32*32)
	for y := 16; y < 32; y++ {
		for x := 16; x < 32; x++ {
			coeffs[y*32+x] = 5000
		}
	}
	levels, absSum, lastPos, err := d.Quant(blk, coeffs, fracbits.NewModel())
	if err != nil {
		t.Fatalf("Quant: %v", err)
	}
	if lastPos != -1 || absSum != 0 {
		t.Fatalf("only-zero-out-region input: lastPos=%d absSum=%d, want -1 and 0", lastPos, absSum)
	}
	for i, l := range levels {
		if l != 0 {
			t.Fatalf("levels[%d] = %d inside the zeroed-out region, want 0", i, l)
		}
	}
}

func TestQuantScalingListFlatMatchesDefault(t *testing.T) {
	d, _ := newTestDriver(true)
	blk := testBlock(4, 4, 30, 40.0)
	coeffs := []int64{1500, -900, 0, 2100, 0, 0, 1300, 0, 0, 0, 0, 600, 0, 0, 0, 0}

	lDefault, sDefault, pDefault, err := d.Quant(blk, coeffs, fracbits.NewModel())
	if err != nil {
		t.Fatalf("Quant(default): %v", err)
	}

	qb := d.initQuantBlock(blk, -1)
	flat := make([]int64, 16)
	for i := range flat {
		flat[i] = qb.QScale
	}
	blkSL := blk
	blkSL.ScalingList = flat
	lFlat, sFlat, pFlat, err := d.Quant(blkSL, coeffs, fracbits.NewModel())
	if err != nil {
		t.Fatalf("Quant(flat scaling list): %v", err)
	}
	if sDefault != sFlat || pDefault != pFlat {
		t.Fatalf("flat scaling list diverged: absSum %d vs %d, lastPos %d vs %d", sDefault, sFlat, pDefault, pFlat)
	}
	for i := range lDefault {
		if lDefault[i] != lFlat[i] {
			t.Fatalf("flat scaling list diverged at level %d: %d vs %d", i, lDefault[i], lFlat[i])
		}
	}
}

func TestQuantTransformSkipGating(t *testing.T) {
	d, m := newTestDriver(true) // UseRdoqTS is false
	blk := testBlock(4, 4, 30, 40.0)
	blk.TransformSkip = true
	coeffs := make([]int64, 16)
	coeffs[0] = 5000
	levels, absSum, lastPos, err := d.Quant(blk, coeffs, m)
	if err != nil {
		t.Fatalf("Quant: %v", err)
	}
	if lastPos != -1 || absSum != 0 {
		t.Fatalf("transform-skip without UseRdoqTS: lastPos=%d absSum=%d, want -1 and 0", lastPos, absSum)
	}
	for i, l := range levels {
		if l != 0 {
			t.Fatalf("levels[%d] = %d, want 0", i, l)
		}
	}
}

func TestQuantRejectsNonPositiveLambda(t *testing.T) {
	d, m := newTestDriver(true)
	blk := testBlock(4, 4, 20, 0)
	_, _, _, err := d.Quant(blk, make([]int64, 16), m)
	if err != ErrInvalidLambda {
		t.Fatalf("expected ErrInvalidLambda, got %v", err)
	}
}

func TestQuantRejectsBadShape(t *testing.T) {
	d, m := newTestDriver(true)
	blk := testBlock(6, 6, 20, 10)
	_, _, _, err := d.Quant(blk, make([]int64, 36), m)
	if err != ErrInvalidShape {
		t.Fatalf("expected ErrInvalidShape, got %v", err)
	}
}

func TestQuantRejectsMismatchedCoeffLength(t *testing.T) {
	d, m := newTestDriver(true)
	blk := testBlock(4, 4, 20, 10)
	_, _, _, err := d.Quant(blk, make([]int64, 15), m)
	if err != ErrCoeffLength {
		t.Fatalf("expected ErrCoeffLength, got %v", err)
	}
}

func TestRoundOnlyFallback(t *testing.T) {
	d, m := newTestDriver(false)
	blk := testBlock(4, 4, 24, 10.0)
	coeffs := make([]int64, 16)
	coeffs[5] = 4000
	levels, absSum, lastPos, err := d.Quant(blk, coeffs, m)
	if err != nil {
		t.Fatalf("Quant: %v", err)
	}
	if levels[5] == 0 {
		t.Fatal("round-only fallback should still quantize an obvious spike to nonzero")
	}
	if lastPos < 0 {
		t.Fatal("expected a nonzero lastPos from the round-only fallback")
	}
	checkOutputs(t, d, blk, coeffs, levels, absSum, lastPos)
}

// pathCost scores one fixed level assignment (indexed by scan position)
// under the exact cost model the trellis optimizes, for a single-sub-block
// luma TU driven by a fresh (all contexts 50/50) cost model. With a fresh
// model every context id inside a table prices identically, so the cost of
// a path depends only on the DQ state sequence its parities induce — the
// regime where the trellis search is exactly optimal.
func pathCost(tu *TUParameters, qb QuantBlock, re *RateEstimator, absCoeffs []int64, levelsByScan []int64) int64 {
	last := -1
	for s := len(levelsByScan) - 1; s >= 0; s-- {
		if levelsByScan[s] != 0 {
			last = s
			break
		}
	}
	if last < 0 {
		return 0
	}

	sig := re.sigFracBits[0][0]
	gtx := re.gtxFracBits[0]
	deltaDist := func(scaledOrg, q int64) int64 {
		return ((q*qb.DistStepAdd-scaledOrg*qb.DistOrgFact)*q + qb.DistAdd) >> qb.DistShift
	}

	cost := re.LastOffset(last)
	state := 0
	remRegBins := 0
	for s := last; s >= 0; s-- {
		level := levelsByScan[s]
		scaledOrg := absCoeffs[tu.ScanInfo[s].RasterPos] * qb.QScale
		if s == last {
			cost += deltaDist(scaledOrg, 2*level-int64(state>>1)) + gtx.Bits[level]
			remRegBins = (tu.Width*tu.Height*maxTULevelCtxCodedBinConstraint)/16 - regBinCost(level)
		} else {
			if remRegBins < 4 {
				panic("pathCost: test input left the regular-coded regime")
			}
			if level != 0 {
				cost += deltaDist(scaledOrg, 2*level-int64(state>>1)) + sig.Bits[1] + gtx.Bits[level]
			} else {
				cost += sig.Bits[0]
			}
			remRegBins--
			if remRegBins >= 4 {
				remRegBins -= regBinCost(level)
			}
		}
		state = NextDequantState(state, level)
	}
	return cost
}

// TestQuantBeatsBruteForce checks RD optimality on a 4x4 block: the
// trellis result must tie or beat every enumerated alternative level
// assignment under the same D + lambda*R.
func TestQuantBeatsBruteForce(t *testing.T) {
	d, _ := newTestDriver(true)
	blk := testBlock(4, 4, 32, 50.0)
	tu := d.rom.TUParams(4, 4, ChannelLuma)
	qb := d.initQuantBlock(blk, -1)

	// three significant inputs, placed by scan index so every candidate
	// level stays below 4 and the block never leaves the regular regime
	coeffs := make([]int64, 16)
	nzScan := []int{7, 5, 2}
	nzVals := []int64{2400, 1800, 1200}
	for k, s := range nzScan {
		coeffs[tu.ScanInfo[s].RasterPos] = nzVals[k]
	}
	absCoeffs := make([]int64, 16)
	copy(absCoeffs, coeffs)

	m := fracbits.NewModel()
	levels, absSum, lastPos, err := d.Quant(blk, coeffs, m)
	if err != nil {
		t.Fatalf("Quant: %v", err)
	}
	checkOutputs(t, d, blk, coeffs, levels, absSum, lastPos)

	re := NewRateEstimator(tu, fracbits.NewModel(), 0)

	trellisByScan := make([]int64, 16)
	for scanIdx, si := range tu.ScanInfo {
		trellisByScan[scanIdx] = util.Abs(levels[si.RasterPos])
	}
	trellisCost := pathCost(tu, qb, re, absCoeffs, trellisByScan)

	// candidate levels per significant position: zero plus the four coset
	// levels around the rounded quantization index
	cands := make([][]int64, len(nzScan))
	for k, s := range nzScan {
		_, pq := qb.PreQuantCoeff(absCoeffs[tu.ScanInfo[s].RasterPos], qb.QScale)
		set := map[int64]bool{0: true}
		for _, p := range pq {
			if p.AbsLevel > 0 {
				set[p.AbsLevel] = true
			}
		}
		for l := range set {
			cands[k] = append(cands[k], l)
		}
	}

	try := make([]int64, 16)
	var rec func(k int)
	rec = func(k int) {
		if k == len(nzScan) {
			if c := pathCost(tu, qb, re, absCoeffs, try); c < trellisCost {
				t.Fatalf("brute-force path %v costs %d, beating the trellis at %d", try, c, trellisCost)
			}
			return
		}
		for _, l := range cands[k] {
			try[nzScan[k]] = l
			rec(k + 1)
		}
	}
	rec(0)
}
