package depquant

import "math"

// QuantBlock holds every per-block derived constant the scalar quantizer
// and dequantizer need, computed once from (qp, shape, bit depth, lambda)
// and then reused for every coefficient in the block. Grounded on the
// vvenc Quantizer's initQuantBlock/preQuantCoeff/dequantBlock split:
// init does the division, shift-count, and lambda folding once, the
// per-coefficient hot path only multiplies and shifts.
type QuantBlock struct {
	QScale  int64
	QAdd    int64
	QShift  uint
	MaxQIdx int64

	// Inverse quantization. IqShiftRaw may be negative for high QPs on
	// large blocks; InvQScale/IqShift/IqAdd are the normalized form with
	// the negative part folded into the scale.
	InvQScale  int64
	IqShiftRaw int
	IqShift    uint
	IqAdd      int64

	// DistShift/DistAdd/DistStepAdd/DistOrgFact are the fixed-point
	// constants the trellis multiplies a quantized index's residual by
	// to get a per-coset distortion delta. Lambda is folded in here, so
	// every rdCost in the trellis is D/lambda + R in one integer unit.
	DistShift   uint
	DistAdd     int64
	DistStepAdd int64
	DistOrgFact int64

	// ThresLast is the pre-scan significance cutoff: a coefficient at or
	// below this magnitude can never beat the all-zero candidate and is
	// skipped before the trellis ever runs. ThresSSbb is the analogous
	// whole-sub-block threshold.
	ThresLast int64
	ThresSSbb int64

	MinTCoeff int64
	MaxTCoeff int64
}

// PQData is one candidate coset produced by PreQuantCoeff: the absolute
// level that coset represents, plus the fixed-point distortion delta
// coding it (instead of zero) would cost.
type PQData struct {
	AbsLevel  int64
	DeltaDist int64
}

// InitQuantBlock derives QuantBlock from a VVC-style qp (0-based internal
// QP, already including any per-component offset), the transform block
// shape, the channel bit depth, the coefficient dynamic range in bits, the
// Lagrange multiplier, and the DQ last-position threshold value. gValue
// overrides the scale used for the distortion constants when a scaling
// list supplies a per-coefficient weight; pass -1 to use QScale.
//
// The derivation follows vvenc's initQuantBlock: integer shifts for
// the quantizer itself, one float evaluation of the lambda-scaled
// distortion factor at init time, then pure integer arithmetic on the hot
// path.
func InitQuantBlock(qp, width, height, bitDepth, maxLog2TrDynamicRange int, lambda float64, dqThrVal int64, gValue int64) QuantBlock {
	invariant(lambda > 0, "lambda must be greater than 0")
	invariant(qp >= 0, "qp must be non-negative")

	qpDQ := qp + 1
	per := qpDQ / 6
	rem := qpDQ % 6

	log2W := log2i(width)
	log2H := log2i(height)
	needsSqrt2 := (log2W+log2H)&1 == 1
	sq := 0
	if needsSqrt2 {
		sq = 1
	}
	nomTransformShift := maxLog2TrDynamicRange - bitDepth - ((log2W + log2H) >> 1)
	transformShift := nomTransformShift
	if needsSqrt2 {
		transformShift--
	}

	qShift := quantShift - 1 + per + transformShift
	invariant(qShift >= 0, "derived quantization shift is negative")
	qScale := quantScales[sq][rem]
	qAdd := -((int64(3) << uint(qShift)) >> 1)

	iqShiftRaw := iquantShift + 1 - per - transformShift
	invQScale := invQuantScales[sq][rem]

	qIdxBD := minI(maxLog2TrDynamicRange+1, 64+iqShiftRaw-iquantShift-1)
	maxQIdx := (int64(1) << uint(qIdxBD-1)) - 4

	var thresLast int64
	if qShift > 0 {
		thresLast = dqThrVal << uint(qShift-1)
	} else {
		thresLast = dqThrVal >> 1
	}
	thresSSbb := int64(3) << uint(qShift)

	// normalized inverse-quant constants for the no-scaling-list path
	normInvQScale := invQScale
	iqShiftU := uint(0)
	if iqShiftRaw < 0 {
		normInvQScale <<= uint(-iqShiftRaw)
	} else {
		iqShiftU = uint(iqShiftRaw)
	}
	var iqAdd int64
	if iqShiftU > 0 {
		iqAdd = int64(1) << (iqShiftU - 1)
	}

	// distortion constants, lambda folded in
	gq := qScale
	if gValue != -1 {
		gq = gValue
	}
	nomDShift := scaleBits - 2*(nomTransformShift+(bitDepth-8)) + qShift + sq
	qScale2 := float64(gq) * float64(gq)
	var nomDistFactor float64
	if nomDShift < 0 {
		nomDistFactor = 1.0 / (math.Pow(2, float64(-nomDShift)) * qScale2 * lambda)
	} else {
		nomDistFactor = math.Pow(2, float64(nomDShift)) / (qScale2 * lambda)
	}
	pow2dfShift := int64(nomDistFactor*qScale2) + 1
	dfShift := ceilLog2(pow2dfShift)
	distShift := 62 + qShift - 2*maxLog2TrDynamicRange - dfShift
	invariant(distShift > 0, "derived distortion shift is non-positive")
	distAdd := (int64(1) << uint(distShift)) >> 1
	distStepAdd := int64(nomDistFactor*math.Pow(2, float64(distShift+qShift)) + 0.5)
	distOrgFact := int64(nomDistFactor*math.Pow(2, float64(distShift+1)) + 0.5)

	minTCoeff := -(int64(1) << uint(maxLog2TrDynamicRange))
	maxTCoeff := (int64(1) << uint(maxLog2TrDynamicRange)) - 1

	return QuantBlock{
		QScale: qScale, QAdd: qAdd, QShift: uint(qShift), MaxQIdx: maxQIdx,
		InvQScale: normInvQScale, IqShiftRaw: iqShiftRaw, IqShift: iqShiftU, IqAdd: iqAdd,
		DistShift: uint(distShift), DistAdd: distAdd,
		DistStepAdd: distStepAdd, DistOrgFact: distOrgFact,
		ThresLast: thresLast, ThresSSbb: thresSSbb,
		MinTCoeff: minTCoeff, MaxTCoeff: maxTCoeff,
	}
}

func ceilLog2(x int64) int {
	n := 0
	for (int64(1) << uint(n)) < x {
		n++
	}
	return n
}

// RoundNearest is the simple round-to-nearest forward quantizer used by the
// non-RDOQ fallback path: no coset search, no distortion bookkeeping.
// scaledOrg is absCoeff multiplied by the quantization coefficient.
func (qb QuantBlock) RoundNearest(scaledOrg int64) int64 {
	var add int64
	if qb.QShift > 0 {
		add = int64(1) << (qb.QShift - 1)
	}
	qIdx := (scaledOrg + add) >> qb.QShift
	if qIdx > qb.MaxQIdx {
		qIdx = qb.MaxQIdx
	}
	return qIdx
}

// PreQuantCoeff computes the four candidate cosets around one absolute
// transform coefficient's floor-quantized index, mirroring preQuantCoeff.
// When the rounded index goes negative (the coefficient sits in the
// near-zero dead zone), only the two odd-level cosets are meaningful and
// the near0 return is true; otherwise all four coset slots are populated,
// keyed by (qIdx+k)&3 the way vvenc interleaves them so that a
// caller can look a candidate up by its low two bits (the DQ parity).
func (qb QuantBlock) PreQuantCoeff(absCoeff, quantCoeff int64) (near0 bool, pq [4]PQData) {
	scaledOrg := absCoeff * quantCoeff
	qIdx := (scaledOrg + qb.QAdd) >> qb.QShift

	if qIdx < 0 {
		scaledAdd := qb.DistStepAdd - scaledOrg*qb.DistOrgFact
		pq[1] = PQData{AbsLevel: 1, DeltaDist: (scaledAdd + qb.DistAdd) >> qb.DistShift}
		pq[2] = PQData{AbsLevel: 1, DeltaDist: ((scaledAdd+qb.DistStepAdd)*2 + qb.DistAdd) >> qb.DistShift}
		return true, pq
	}

	if qIdx < 1 {
		qIdx = 1
	}
	if qIdx > qb.MaxQIdx {
		qIdx = qb.MaxQIdx
	}
	scaledAdd := qIdx*qb.DistStepAdd - scaledOrg*qb.DistOrgFact

	pq[(qIdx+0)&3] = PQData{AbsLevel: (qIdx + 1) >> 1, DeltaDist: (scaledAdd*qIdx + qb.DistAdd) >> qb.DistShift}
	pq[(qIdx+1)&3] = PQData{AbsLevel: (qIdx + 2) >> 1, DeltaDist: ((scaledAdd+qb.DistStepAdd)*(qIdx+1) + qb.DistAdd) >> qb.DistShift}
	pq[(qIdx+2)&3] = PQData{AbsLevel: (qIdx + 3) >> 1, DeltaDist: ((scaledAdd+2*qb.DistStepAdd)*(qIdx+2) + qb.DistAdd) >> qb.DistShift}
	pq[(qIdx+3)&3] = PQData{AbsLevel: (qIdx + 4) >> 1, DeltaDist: ((scaledAdd+3*qb.DistStepAdd)*(qIdx+3) + qb.DistAdd) >> qb.DistShift}
	return false, pq
}

// DequantOne reconstructs one transform-domain coefficient from a decoded
// signed level and the 4-state DQ state that level was coded under,
// mirroring dequantBlock's per-position reconstruction: the two
// dependent-quantization step grids differ by a state-conditioned half-step
// offset folded into qIdx itself rather than into the reconstruction scale.
func (qb QuantBlock) DequantOne(level int64, state int) int64 {
	if level == 0 {
		return 0
	}
	var qIdx int64
	if level > 0 {
		qIdx = 2*level - int64(state>>1)
	} else {
		qIdx = 2*level + int64(state>>1)
	}
	nom := (qIdx*qb.InvQScale + qb.IqAdd) >> qb.IqShift
	if nom < qb.MinTCoeff {
		nom = qb.MinTCoeff
	}
	if nom > qb.MaxTCoeff {
		nom = qb.MaxTCoeff
	}
	return nom
}

// NextDequantState advances the 4-state/2-parity DQ state machine for one
// coefficient, given the current state and the just-decoded signed level
// (only its parity matters, and two's-complement parity is sign-agnostic).
// Table-driven per dequantStateTransition, which packs four bits per state
// (two 2-bit sub-fields selected by parity).
func NextDequantState(state int, level int64) int {
	parity := int(level & 1)
	shift := uint((state << 2) + (parity << 1))
	return int((dequantStateTransition >> shift) & 3)
}
