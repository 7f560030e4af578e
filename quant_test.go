package depquant

import "testing"

func testQuantBlock(qp int) QuantBlock {
	return InitQuantBlock(qp, 4, 4, 8, defaultMaxLog2TrDynamicRange, 50.0, 8, -1)
}

func TestPreQuantCoeffLevelsMonotonic(t *testing.T) {
	qb := testQuantBlock(32)
	prevMax := int64(0)
	for c := int64(0); c <= 20000; c += 73 {
		_, pq := qb.PreQuantCoeff(c, qb.QScale)
		maxLevel := int64(0)
		for _, p := range pq {
			if p.AbsLevel > maxLevel {
				maxLevel = p.AbsLevel
			}
		}
		if maxLevel < prevMax {
			t.Fatalf("PreQuantCoeff(%d): max candidate level %d dropped below previous %d", c, maxLevel, prevMax)
		}
		prevMax = maxLevel
	}
}

func TestPreQuantCoeffNearZero(t *testing.T) {
	qb := testQuantBlock(32)
	near0, pq := qb.PreQuantCoeff(0, qb.QScale)
	if !near0 {
		t.Fatal("a zero coefficient must land in the near-zero dead zone")
	}
	if pq[1].AbsLevel != 1 || pq[2].AbsLevel != 1 {
		t.Fatalf("near-zero candidates must both be level 1, got %d and %d", pq[1].AbsLevel, pq[2].AbsLevel)
	}
	if pq[1].DeltaDist <= 0 || pq[2].DeltaDist <= 0 {
		t.Fatalf("coding a level for a zero source must cost distortion, got %d and %d", pq[1].DeltaDist, pq[2].DeltaDist)
	}
}

func TestPreQuantCoeffLargeCoeffFavoursNonzero(t *testing.T) {
	qb := testQuantBlock(32)
	near0, pq := qb.PreQuantCoeff(30000, qb.QScale)
	if near0 {
		t.Fatal("a large coefficient must not be near-zero")
	}
	sawNegative := false
	for _, p := range pq {
		if p.AbsLevel > 0 && p.DeltaDist < 0 {
			sawNegative = true
		}
	}
	if !sawNegative {
		t.Fatal("at least one candidate level must reduce distortion for a large coefficient")
	}
}

func TestDequantOneSignPreservation(t *testing.T) {
	qb := testQuantBlock(30)
	for state := 0; state < 4; state++ {
		pos := qb.DequantOne(5, state)
		neg := qb.DequantOne(-5, state)
		if pos <= 0 {
			t.Fatalf("DequantOne(5,%d) = %d, want positive", state, pos)
		}
		if neg != -pos {
			t.Fatalf("DequantOne(-5,%d) = %d, want %d", state, neg, -pos)
		}
	}
}

func TestDequantOneZero(t *testing.T) {
	qb := testQuantBlock(30)
	for state := 0; state < 4; state++ {
		if v := qb.DequantOne(0, state); v != 0 {
			t.Fatalf("DequantOne(0,%d) = %d, want 0", state, v)
		}
	}
}

func TestDequantOneMonotonicInLevel(t *testing.T) {
	for _, qp := range []int{12, 26, 38, 51} {
		qb := testQuantBlock(qp)
		for state := 0; state < 4; state++ {
			prev := int64(0)
			for level := int64(1); level <= 64; level++ {
				rec := qb.DequantOne(level, state)
				if rec < prev {
					t.Fatalf("qp %d state %d: DequantOne(%d) = %d < DequantOne(%d) = %d", qp, state, level, rec, level-1, prev)
				}
				if half := qb.DequantOne(level/2, state); level%2 == 0 && rec < half {
					t.Fatalf("qp %d state %d: doubling the level shrank the reconstruction: %d -> %d", qp, state, half, rec)
				}
				prev = rec
			}
		}
	}
}

func TestNextDequantStateTable(t *testing.T) {
	// the 0x7D28 table spelled out: (state, parity) -> next state
	want := [4][2]int{{0, 2}, {2, 0}, {1, 3}, {3, 1}}
	for state := 0; state < 4; state++ {
		for parity := 0; parity < 2; parity++ {
			if got := NextDequantState(state, int64(parity)); got != want[state][parity] {
				t.Fatalf("NextDequantState(%d, parity %d) = %d, want %d", state, parity, got, want[state][parity])
			}
			if got := NextDequantState(state, int64(parity+6)); got != want[state][parity] {
				t.Fatal("NextDequantState must depend only on level parity")
			}
			if got := NextDequantState(state, int64(-parity)); got != want[state][parity] {
				t.Fatal("NextDequantState must be sign-agnostic")
			}
		}
	}
}

func TestInitQuantBlockShiftsConsistent(t *testing.T) {
	for _, shape := range [][2]int{{4, 4}, {8, 8}, {4, 8}, {32, 32}, {64, 64}} {
		for _, qp := range []int{0, 17, 32, 51, 63} {
			qb := InitQuantBlock(qp, shape[0], shape[1], 8, defaultMaxLog2TrDynamicRange, 50.0, 8, -1)
			if qb.QScale <= 0 || qb.InvQScale <= 0 {
				t.Fatalf("shape %v qp %d: non-positive scales %d/%d", shape, qp, qb.QScale, qb.InvQScale)
			}
			if qb.MaxQIdx < 1 {
				t.Fatalf("shape %v qp %d: MaxQIdx = %d", shape, qp, qb.MaxQIdx)
			}
			if qb.DistStepAdd <= 0 || qb.DistOrgFact <= 0 {
				t.Fatalf("shape %v qp %d: distortion factors %d/%d", shape, qp, qb.DistStepAdd, qb.DistOrgFact)
			}
		}
	}
}

func TestInitQuantBlockLambdaScalesDistortion(t *testing.T) {
	lo := InitQuantBlock(32, 4, 4, 8, defaultMaxLog2TrDynamicRange, 1.0, 8, -1)
	hi := InitQuantBlock(32, 4, 4, 8, defaultMaxLog2TrDynamicRange, 1024.0, 8, -1)
	// a larger lambda must weigh distortion less against the (fixed) rate
	coeff := int64(2400)
	_, pqLo := lo.PreQuantCoeff(coeff, lo.QScale)
	_, pqHi := hi.PreQuantCoeff(coeff, hi.QScale)
	var gainLo, gainHi int64
	for k := range pqLo {
		if pqLo[k].AbsLevel > 0 && pqLo[k].DeltaDist < gainLo {
			gainLo = pqLo[k].DeltaDist
		}
		if pqHi[k].AbsLevel > 0 && pqHi[k].DeltaDist < gainHi {
			gainHi = pqHi[k].DeltaDist
		}
	}
	if gainLo >= 0 {
		t.Fatal("low lambda: expected a distortion-reducing candidate")
	}
	if gainHi <= gainLo {
		t.Fatalf("raising lambda should shrink the distortion gain, got %d -> %d", gainLo, gainHi)
	}
}
