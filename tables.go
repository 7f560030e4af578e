package depquant

// Fixed constants and precomputed ROM tables for the DQ trellis. Most
// mirror well-known HEVC/VVC magic numbers (quantScales, the dequant
// state-transition constant); see DESIGN.md for provenance notes.
const (
	// scaleBits is the fractional-bit precision carried by every rate
	// quantity exchanged with the entropy coder snapshot.
	scaleBits = 15
	scaleOne  = 1 << scaleBits

	// riceMax bounds the Golomb-Rice remainder lookup table.
	riceMax = 32

	// maxTULevelCtxCodedBinConstraint bounds the regular-coded-bin budget
	// derived from a TB's effective area.
	maxTULevelCtxCodedBinConstraint = 28

	// numCtxSetsSig is the number of significance-flag context sets per
	// channel: states 0 and 1 share the first, states 2 and 3 read the
	// second and third.
	numCtxSetsSig = 3

	// zeroOutThreshold bounds the live coefficient coordinates:
	// coefficients at or beyond this in either axis are always zero.
	zeroOutThreshold = 32

	// quantShift / iquantShift are the HEVC/VVC forward- and
	// inverse-quantization shift constants.
	quantShift  = 14
	iquantShift = 6

	// defaultMaxLog2TrDynamicRange is the default transform dynamic range in bits
	// for an 8-bit internal pipeline (MAX_TR_DYNAMIC_RANGE in vvenc).
	defaultMaxLog2TrDynamicRange = 15

	// log2ScalingListNeutral is log2 of the scaling-list neutral weight
	// (16). Dequant adds it to its shift on the scaling-list path, so a flat
	// DequantList whose entries are 16 times the unweighted inverse scale
	// reproduces the unweighted dequantizer.
	log2ScalingListNeutral = 4

	// dequantStateTransition packs the 4-state/2-parity DQ transition table
	// used by both the dequantizer and (conceptually) the trellis: next
	// state = (dequantStateTransition >> ((state<<2) + (parity<<1))) & 3.
	dequantStateTransition = 0x7D28
)

// goRiceBits[par][v] is the fixed-point bit cost of coding remainder value v
// with Golomb-Rice parameter par. Matches vvenc's g_goRiceBits ROM.
var goRiceBits = [4][riceMax]int64{
	{32768, 65536, 98304, 131072, 163840, 196608, 262144, 262144, 327680, 327680, 327680, 327680, 393216, 393216, 393216, 393216, 393216, 393216, 393216, 393216, 458752, 458752, 458752, 458752, 458752, 458752, 458752, 458752, 458752, 458752, 458752, 458752},
	{65536, 65536, 98304, 98304, 131072, 131072, 163840, 163840, 196608, 196608, 229376, 229376, 294912, 294912, 294912, 294912, 360448, 360448, 360448, 360448, 360448, 360448, 360448, 360448, 425984, 425984, 425984, 425984, 425984, 425984, 425984, 425984},
	{98304, 98304, 98304, 98304, 131072, 131072, 131072, 131072, 163840, 163840, 163840, 163840, 196608, 196608, 196608, 196608, 229376, 229376, 229376, 229376, 262144, 262144, 262144, 262144, 327680, 327680, 327680, 327680, 327680, 327680, 327680, 327680},
	{131072, 131072, 131072, 131072, 131072, 131072, 131072, 131072, 163840, 163840, 163840, 163840, 163840, 163840, 163840, 163840, 196608, 196608, 196608, 196608, 196608, 196608, 196608, 196608, 229376, 229376, 229376, 229376, 229376, 229376, 229376, 229376},
}

// goRiceParsCoeff maps a saturated neighbourhood absolute-level sum to a
// Golomb-Rice parameter in [0,3].
var goRiceParsCoeff = [32]int8{
	0, 0, 0, 0, 0, 0, 0, 0,
	1, 1, 1, 1, 1, 1, 1, 1,
	2, 2, 2, 2, 2, 2, 2, 2,
	2, 2, 2, 2, 3, 3, 3, 3,
}

// goRicePosCoeff0 returns the Rice-zero boundary used in the bypass regime.
// vvenc derives this from a per-state parity ROM; this uses a documented
// monotonic approximation (state 0 gets the full parameter, the remaining
// states are offset by one, see DESIGN.md). It only affects which bypass
// codeword is chosen at the boundary.
func goRicePosCoeff0(stateID int, ricePar int8) int8 {
	if stateID == 0 {
		return ricePar
	}
	if ricePar > 0 {
		return ricePar - 1
	}
	return 0
}

// quantScales / invQuantScales are the six-entry-per-qpRem HEVC/VVC
// quantization-scale ROMs, indexed [needsSqrt2Adjustment][qpRem].
var quantScales = [2][6]int64{
	{26214, 23302, 20560, 18396, 16384, 14564},
	{18396, 16384, 14564, 13107, 11651, 10280},
}

var invQuantScales = [2][6]int64{
	{40, 45, 51, 57, 64, 72},
	{57, 64, 72, 80, 90, 102},
}

// lastPrefixCtx maps log2(size)-indexed last-position prefix groups to a
// context offset, matching vvenc's static prefixCtx table.
var lastPrefixCtx = [8]int{0, 0, 0, 3, 6, 10, 15, 21}

// groupIdx maps a 0-based coordinate to its last-position context group.
// Matches the VVC g_uiGroupIdx ROM: groups of increasing power-of-two width.
var groupIdx = buildGroupIdx()

func buildGroupIdx() [zeroOutThreshold]int {
	var g [zeroOutThreshold]int
	for pos := 0; pos < zeroOutThreshold; pos++ {
		switch {
		case pos < 4:
			g[pos] = pos
		case pos < 8:
			g[pos] = 4 + (pos-4)>>1
		case pos < 16:
			g[pos] = 6 + (pos-8)>>2
		default:
			g[pos] = 8 + (pos-16)>>3
		}
	}
	return g
}

func log2i(x int) int {
	n := 0
	for x > 1 {
		x >>= 1
		n++
	}
	return n
}

func minI(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxI(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clipI(lo, hi, v int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
