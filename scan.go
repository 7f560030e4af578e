package depquant

import "sync"

// Channel identifies the channel type a TU parameter set was built for; the
// context offsets used by the Rate Estimator differ between luma and chroma.
type Channel int

const (
	ChannelLuma Channel = iota
	ChannelChroma
)

// ScanPosType classifies a scan position within its sub-block:
// START_OF_SBB / END_OF_SBB positions carry an extra sub-block
// significance decision.
type ScanPosType int

const (
	ScanInSbb ScanPosType = iota
	ScanStartOfSbb
	ScanEndOfSbb
)

// scanPos is one entry of a scan-order permutation: raster (x,y) plus the
// flattened raster index.
type scanPos struct {
	x, y, idx int
}

// NbInfoSbb lists, for one scan position, the earlier (lower scanId, so
// processed later in the reverse fold) positions in the same sub-block whose
// significance/greater-than context depends on this position's level.
type NbInfoSbb struct {
	InvInPos [5]uint8
	NumInv   int
}

// NbInfoOut lists, for one scan position, the earlier (reverse-order)
// positions in a later sub-block that this position's context reads, plus
// the farthest such distance.
type NbInfoOut struct {
	OutPos  [5]uint16
	Num     int
	MaxDist int
}

// ScanInfo is the denormalized per-scan-position tuple the trellis consumes
// every step.
type ScanInfo struct {
	ScanIdx         int
	RasterPos       int
	SbbPos          int
	InsidePos       int
	SPT             ScanPosType
	PosX, PosY      int
	SigCtxOffsetNext int
	GtxCtxOffsetNext int
	NextInsidePos   int
	CurrNbInfoSbb   NbInfoSbb
	NextSbbRight    int // 0 means "no right neighbour"
	NextSbbBelow    int // 0 means "no below neighbour"
	SbbSize         int
	NumSbb          int
}

// TUParameters caches everything the trellis needs for one transform-block
// shape and channel: the scan permutations, neighbourhood tables, and the
// per-position ScanInfo tuples.
type TUParameters struct {
	Width, Height   int
	Channel         Channel
	Log2SbbWidth    int
	Log2SbbHeight   int
	SbbSize         int
	SbbMask         int
	WidthInSbb      int
	HeightInSbb     int
	NumSbb          int
	NumCoeff        int
	ScanID2BlkPos   []scanPos
	ScanSbbID2SbbPos []scanPos
	ScanInfo        []ScanInfo
	NbOut           []NbInfoOut
}

// shapeKey identifies one (width, height, channel) ROM entry.
type shapeKey struct {
	log2W, log2H int
	ch           Channel
}

// Rom is the lazily-initialized, read-only scan/neighbourhood table cache.
// Entries are built on first request and then never mutated; concurrent
// callers are serialized by mu, so a Rom is safe to share across Drivers.
type Rom struct {
	mu      sync.Mutex
	nbSbb   map[[2]int][]NbInfoSbb
	nbOut   map[[2]int][]NbInfoOut
	tuPars  map[shapeKey]*TUParameters
}

// NewRom constructs an empty ROM cache. A Rom is safe for concurrent use
// across Drivers: it never mutates an entry once built.
func NewRom() *Rom {
	return &Rom{
		nbSbb:  make(map[[2]int][]NbInfoSbb),
		nbOut:  make(map[[2]int][]NbInfoOut),
		tuPars: make(map[shapeKey]*TUParameters),
	}
}

// sbbShape returns the (log2 sub-block width, log2 sub-block height) for a
// transform-block shape, matching the codec's table-driven g_log2SbbSize:
// sub-blocks are always 16 coefficients (4x4) except degenerate 2xN/Nx2
// blocks, where the group spans the full narrow axis.
func sbbShape(log2W, log2H int) (int, int) {
	switch {
	case log2W == 1 && log2H >= 1:
		return 1, minI(3, log2H)
	case log2H == 1 && log2W >= 1:
		return minI(3, log2W), 1
	default:
		return 2, 2
	}
}

// groupedDiagonalScan builds the grouped-4x4 diagonal scan order for a
// regionWidth x regionHeight area (the zero-out-restricted region, always
// <= the transform block's real dimensions): 4x4 (or narrow-edge) groups
// are themselves visited in ascending diagonal order, and within each
// group positions are visited in ascending diagonal order. stride is the
// real row width of the coefficient array the raster index is computed
// against (the region may be narrower than the full block). Spec.md §1
// treats the scan-order table as externally supplied; this is the
// standard self-contained generator used when no such external table is
// wired in.
func groupedDiagonalScan(regionWidth, regionHeight, stride, log2SbbW, log2SbbH int) []scanPos {
	sbbW := 1 << log2SbbW
	sbbH := 1 << log2SbbH
	sbbCountX := regionWidth / sbbW
	sbbCountY := regionHeight / sbbH

	sbbOrder := diagonalOrder(sbbCountX, sbbCountY)
	inOrder := diagonalOrder(sbbW, sbbH)

	out := make([]scanPos, 0, regionWidth*regionHeight)
	for _, sbb := range sbbOrder {
		baseX := sbb.x * sbbW
		baseY := sbb.y * sbbH
		for _, p := range inOrder {
			x := baseX + p.x
			y := baseY + p.y
			out = append(out, scanPos{x: x, y: y, idx: y*stride + x})
		}
	}
	return out
}

// diagonalOrder returns every (x,y) in [0,w)x[0,h) ordered by ascending
// diagonal x+y, then ascending y within a diagonal.
func diagonalOrder(w, h int) []scanPos {
	out := make([]scanPos, 0, w*h)
	for d := 0; d < w+h-1; d++ {
		for y := 0; y <= d; y++ {
			x := d - y
			if x >= 0 && x < w && y >= 0 && y < h {
				out = append(out, scanPos{x: x, y: y})
			}
		}
	}
	return out
}

// ungroupedScan is the plain per-sub-block diagonal order used at
// sub-block granularity (no further 4x4 grouping), with idx set to the
// sub-block's own raster position (y*w+x) rather than a coefficient
// raster position.
func ungroupedScan(w, h int) []scanPos {
	order := diagonalOrder(w, h)
	for i := range order {
		order[i].idx = order[i].y*w + order[i].x
	}
	return order
}

// neighbours computes the NbInfoSbb/NbInfoOut context-template tables for
// a shape. stride is the block's real row width; blkWidthNZ/blkHeightNZ are the
// (possibly smaller) zero-out-restricted region dimensions scanID2RP
// already covers.
func neighbours(stride, blkWidthNZ, blkHeightNZ, groupSize int, scanID2RP []scanPos) ([]NbInfoSbb, []NbInfoOut) {
	total := blkWidthNZ * blkHeightNZ

	raster2id := make([]int, stride*blkHeightNZ)
	for scanID := 0; scanID < total; scanID++ {
		raster2id[scanID2RP[scanID].idx] = scanID
	}

	nbSbb := make([]NbInfoSbb, total)
	nbOut := make([]NbInfoOut, total)

	for scanID := 0; scanID < total; scanID++ {
		posX := scanID2RP[scanID].x
		posY := scanID2RP[scanID].y
		rpos := scanID2RP[scanID].idx
		begSbb := scanID - (scanID & (groupSize - 1))

		// inside sub-block neighbours
		var cposIn [5]int
		if posX+1 < blkWidthNZ {
			if id := raster2id[rpos+1]; id < groupSize+begSbb {
				cposIn[0] = id - begSbb
			}
		}
		if posX+2 < blkWidthNZ {
			if id := raster2id[rpos+2]; id < groupSize+begSbb {
				cposIn[1] = id - begSbb
			}
		}
		if posX+1 < blkWidthNZ && posY+1 < blkHeightNZ {
			if id := raster2id[rpos+1+stride]; id < groupSize+begSbb {
				cposIn[2] = id - begSbb
			}
		}
		if posY+1 < blkHeightNZ {
			if id := raster2id[rpos+stride]; id < groupSize+begSbb {
				cposIn[3] = id - begSbb
			}
		}
		if posY+2 < blkHeightNZ {
			if id := raster2id[rpos+2*stride]; id < groupSize+begSbb {
				cposIn[4] = id - begSbb
			}
		}
		inPos := selectAscending(cposIn)
		for _, ip := range inPos {
			target := begSbb + ip
			invariant(nbSbb[target].NumInv < 5, "NbInfoSbb invInPos overflow")
			nbSbb[target].InvInPos[nbSbb[target].NumInv] = uint8(scanID & (groupSize - 1))
			nbSbb[target].NumInv++
		}

		// outside sub-block neighbours
		var cposOut [5]int
		if posX+1 < blkWidthNZ {
			if id := raster2id[rpos+1]; id >= groupSize+begSbb {
				cposOut[0] = id
			}
		}
		if posX+2 < blkWidthNZ {
			if id := raster2id[rpos+2]; id >= groupSize+begSbb {
				cposOut[1] = id
			}
		}
		if posX+1 < blkWidthNZ && posY+1 < blkHeightNZ {
			if id := raster2id[rpos+1+stride]; id >= groupSize+begSbb {
				cposOut[2] = id
			}
		}
		if posY+1 < blkHeightNZ {
			if id := raster2id[rpos+stride]; id >= groupSize+begSbb {
				cposOut[3] = id
			}
		}
		if posY+2 < blkHeightNZ {
			if id := raster2id[rpos+2*stride]; id >= groupSize+begSbb {
				cposOut[4] = id
			}
		}
		outPos := selectAscending(cposOut)
		nb := &nbOut[scanID]
		for _, op := range outPos {
			nb.OutPos[nb.Num] = uint16(op)
			nb.Num++
		}
		if scanID == 0 {
			nb.MaxDist = 0
		} else {
			nb.MaxDist = nbOut[scanID-1].MaxDist
		}
		for k := 0; k < nb.Num; k++ {
			if int(nb.OutPos[k]) > nb.MaxDist {
				nb.MaxDist = int(nb.OutPos[k])
			}
		}
	}

	// relativize outPos/maxDist so values denote distances used by the
	// incremental context copies
	for scanID := 0; scanID < total; scanID++ {
		nb := &nbOut[scanID]
		begSbb := scanID - (scanID & (groupSize - 1))
		for k := 0; k < nb.Num; k++ {
			invariant(int(nb.OutPos[k]) >= begSbb, "out-of-subblock position precedes sub-block begin")
			nb.OutPos[k] -= uint16(begSbb)
		}
		nb.MaxDist -= scanID
	}

	return nbSbb, nbOut
}

// selectAscending repeatedly extracts the smallest nonzero candidate,
// matching vvenc's "pick smallest remaining, zero it, repeat" loop.
func selectAscending(cpos [5]int) []int {
	out := make([]int, 0, 5)
	work := cpos
	for {
		nk := -1
		for k := 0; k < 5; k++ {
			if work[k] != 0 && (nk < 0 || work[k] < work[nk]) {
				nk = k
			}
		}
		if nk < 0 {
			break
		}
		out = append(out, work[nk])
		work[nk] = 0
	}
	return out
}

// TUParams returns the cached TUParameters for (width, height, channel),
// building it (and the underlying neighbourhood tables) on first use.
func (r *Rom) TUParams(width, height int, ch Channel) *TUParameters {
	invariant(isPow2(width) && isPow2(height), "transform block dimensions must be powers of two")
	invariant(width >= 4 || height >= 4, "1xN/Nx1 shapes below 4x4 are not supported")

	log2W := log2i(width)
	log2H := log2i(height)
	key := shapeKey{log2W: log2W, log2H: log2H, ch: ch}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tp, ok := r.tuPars[key]; ok {
		return tp
	}

	log2SbbW, log2SbbH := sbbShape(log2W, log2H)
	nzWidth := minI(zeroOutThreshold, width)
	nzHeight := minI(zeroOutThreshold, height)
	nbKey := [2]int{log2W, log2H}
	nbSbb, ok := r.nbSbb[nbKey]
	var nbOut []NbInfoOut
	if !ok {
		groupSize := 1 << (log2SbbW + log2SbbH)
		scanID2RP := groupedDiagonalScan(nzWidth, nzHeight, width, log2SbbW, log2SbbH)
		nbSbb, nbOut = neighbours(width, nzWidth, nzHeight, groupSize, scanID2RP)
		r.nbSbb[nbKey] = nbSbb
		r.nbOut[nbKey] = nbOut
	} else {
		nbOut = r.nbOut[nbKey]
	}

	tp := buildTUParameters(width, height, ch, log2SbbW, log2SbbH, nbSbb, nbOut)
	r.tuPars[key] = tp
	return tp
}

func buildTUParameters(width, height int, ch Channel, log2SbbW, log2SbbH int, nbSbb []NbInfoSbb, nbOut []NbInfoOut) *TUParameters {
	nzWidth := minI(zeroOutThreshold, width)
	nzHeight := minI(zeroOutThreshold, height)
	numCoeff := nzWidth * nzHeight
	sbbSize := 1 << (log2SbbW + log2SbbH)
	widthInSbb := nzWidth >> log2SbbW
	heightInSbb := nzHeight >> log2SbbH
	numSbb := widthInSbb * heightInSbb

	scanID2BlkPos := groupedDiagonalScan(nzWidth, nzHeight, width, log2SbbW, log2SbbH)
	scanSbbID2SbbPos := ungroupedScan(widthInSbb, heightInSbb)

	tp := &TUParameters{
		Width: width, Height: height, Channel: ch,
		Log2SbbWidth: log2SbbW, Log2SbbHeight: log2SbbH,
		SbbSize: sbbSize, SbbMask: sbbSize - 1,
		WidthInSbb: widthInSbb, HeightInSbb: heightInSbb,
		NumSbb: numSbb, NumCoeff: numCoeff,
		ScanID2BlkPos: scanID2BlkPos, ScanSbbID2SbbPos: scanSbbID2SbbPos,
		ScanInfo: make([]ScanInfo, numCoeff),
		NbOut:    nbOut,
	}
	for scanIdx := 0; scanIdx < numCoeff; scanIdx++ {
		tp.ScanInfo[scanIdx] = tp.buildScanInfo(scanIdx, nbSbb, nbOut)
	}
	return tp
}

func (tp *TUParameters) buildScanInfo(scanIdx int, nbSbb []NbInfoSbb, nbOut []NbInfoOut) ScanInfo {
	si := ScanInfo{
		SbbSize:   tp.SbbSize,
		NumSbb:    tp.NumSbb,
		ScanIdx:   scanIdx,
		RasterPos: tp.ScanID2BlkPos[scanIdx].idx,
		SbbPos:    tp.ScanSbbID2SbbPos[scanIdx>>(tp.Log2SbbWidth+tp.Log2SbbHeight)].idx,
		InsidePos: scanIdx & tp.SbbMask,
		SPT:       ScanInSbb,
		PosX:      tp.ScanID2BlkPos[scanIdx].x,
		PosY:      tp.ScanID2BlkPos[scanIdx].y,
	}
	if si.InsidePos == tp.SbbMask && scanIdx > si.SbbSize && scanIdx < tp.NumCoeff-1 {
		si.SPT = ScanStartOfSbb
	} else if si.InsidePos == 0 && scanIdx > 0 && scanIdx < tp.NumCoeff-tp.SbbSize {
		si.SPT = ScanEndOfSbb
	}

	if scanIdx == 0 {
		return si
	}
	nextScanIdx := scanIdx - 1
	diag := tp.ScanID2BlkPos[nextScanIdx].x + tp.ScanID2BlkPos[nextScanIdx].y
	if tp.Channel == ChannelLuma {
		si.SigCtxOffsetNext = sigOffsetLuma(diag)
		si.GtxCtxOffsetNext = gtxOffsetLuma(diag)
	} else {
		si.SigCtxOffsetNext = sigOffsetChroma(diag)
		si.GtxCtxOffsetNext = gtxOffsetChroma(diag)
	}
	si.NextInsidePos = nextScanIdx & tp.SbbMask
	si.CurrNbInfoSbb = nbSbb[scanIdx]
	if si.InsidePos == 0 {
		nextSbbPos := tp.ScanSbbID2SbbPos[nextScanIdx>>(tp.Log2SbbWidth+tp.Log2SbbHeight)].idx
		nextSbbPosY := nextSbbPos / tp.WidthInSbb
		nextSbbPosX := nextSbbPos - nextSbbPosY*tp.WidthInSbb
		if nextSbbPosX < tp.WidthInSbb-1 {
			si.NextSbbRight = nextSbbPos + 1
		}
		if nextSbbPosY < tp.HeightInSbb-1 {
			si.NextSbbBelow = nextSbbPos + tp.WidthInSbb
		}
	}
	return si
}

func sigOffsetLuma(diag int) int {
	switch {
	case diag < 2:
		return 8
	case diag < 5:
		return 4
	default:
		return 0
	}
}

func gtxOffsetLuma(diag int) int {
	switch {
	case diag < 1:
		return 16
	case diag < 3:
		return 11
	case diag < 10:
		return 6
	default:
		return 1
	}
}

func sigOffsetChroma(diag int) int {
	if diag < 2 {
		return 4
	}
	return 0
}

func gtxOffsetChroma(diag int) int {
	if diag < 1 {
		return 6
	}
	return 1
}

func isPow2(x int) bool {
	return x > 0 && x&(x-1) == 0
}
