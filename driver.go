package depquant

import "github.com/vvenc-go/depquant/util"

// Config holds the encoder-control knobs a caller sets once before driving
// many blocks, rather than threading loose booleans through every call.
type Config struct {
	// UseRdoq enables the full rate-distortion trellis. When false, Quant
	// falls back to plain round-to-nearest scalar quantization (no trellis
	// search) — useful for speed-constrained encode passes.
	UseRdoq bool

	// UseRdoqTS extends the fallback quantizer to transform-skip blocks.
	// When false, a transform-skip block short-circuits with lastPos = -1
	// and absSum = 0; dependent quantization itself never applies to
	// transform skip.
	UseRdoqTS bool

	// ApplyZeroOutRegion caps every 32-long axis of a luma TU's effective
	// coded region (after the 32x32 clamp) to 16, the zero-out footprint
	// MTS/SBT-coded luma blocks use: any
	// coefficient outside the capped region is forced to zero before the
	// trellis (or the fallback) ever sees it.
	ApplyZeroOutRegion bool

	// LfnstActive forces the pre-scan last-position search to start no
	// higher than scan index 7 (4x4/8x8 shapes) or 15 (larger shapes),
	// matching LFNST's restriction on where a nonzero coefficient can
	// appear after the secondary transform.
	LfnstActive bool

	// DqThresholdValue feeds InitQuantBlock's last-position threshold
	// derivation (ThresLast), the minimum scaled coefficient magnitude
	// below which Quant's pre-scan cutoff treats a position as zero
	// without running it through the trellis at all.
	DqThresholdValue int64

	// BitDepth is the channel bit depth; zero means 8.
	BitDepth int

	// MaxLog2TrDynamicRange is the transform coefficient dynamic range in
	// bits; zero means 15.
	MaxLog2TrDynamicRange int
}

// Block carries the per-transform-block parameters of one Quant or Dequant
// call: geometry, channel, QP, the Lagrange multiplier, and the optional
// per-coefficient weight lists.
type Block struct {
	Width, Height int
	Channel       Channel
	QP            int

	// Lambda weighs rate against distortion; must be > 0 for Quant.
	Lambda float64

	// TransformSkip marks the block as transform-skip coded. Dependent
	// quantization does not apply; see Config.UseRdoqTS.
	TransformSkip bool

	// CbfDeltaBits is the fixed-point cost difference of asserting vs
	// negating this block's coded_block_flag in its current context,
	// folded into the last-position cost table. Zero when the CBF is
	// inferred (ISP last-subpartition rule).
	CbfDeltaBits int64

	// ScalingList supplies per-raster-position forward quantization
	// weights; nil uses the flat default scale. DequantList is the
	// matching inverse list consumed by Dequant.
	ScalingList []int64
	DequantList []int64
}

// Driver is the package's public entry point: one Driver, backed by one
// shared Rom, can quantize many transform blocks of varying shape without
// re-deriving scan/neighbourhood tables. The trellis working buffers live
// in the Driver and are reused across calls, so a Driver serves one
// producer goroutine; instantiate one Driver per worker (the Rom may be
// shared freely).
type Driver struct {
	rom  *Rom
	cfg  Config
	bufs *trellisBufs
}

// NewDriver constructs a Driver. Passing a nil rom is invalid; callers
// share one Rom across Drivers precisely because it is safe to do so once
// built (see Rom's doc comment).
func NewDriver(rom *Rom, cfg Config) *Driver {
	invariant(rom != nil, "NewDriver requires a non-nil Rom")
	if cfg.BitDepth == 0 {
		cfg.BitDepth = 8
	}
	if cfg.MaxLog2TrDynamicRange == 0 {
		cfg.MaxLog2TrDynamicRange = defaultMaxLog2TrDynamicRange
	}
	return &Driver{rom: rom, cfg: cfg, bufs: newTrellisBufs()}
}

func validateShape(width, height int, coeffLen int) error {
	if !isPow2(width) || !isPow2(height) {
		return ErrInvalidShape
	}
	if width < 2 || height < 2 || width > 64 || height > 64 {
		return ErrInvalidShape
	}
	if width < 4 && height < 4 {
		return ErrInvalidShape
	}
	if coeffLen != width*height {
		return ErrCoeffLength
	}
	return nil
}

// effectiveDims derives the coded footprint a block actually gets scored
// over: MTS/SBT-style luma TUs collapse a 32-long axis to 16, mirroring
// VVC's zero-out-region rule for large luma transforms.
func (d *Driver) effectiveDims(width, height int, ch Channel) (effWidth, effHeight int) {
	effWidth = minI(width, zeroOutThreshold)
	effHeight = minI(height, zeroOutThreshold)
	if d.cfg.ApplyZeroOutRegion && ch == ChannelLuma {
		if effWidth == 32 {
			effWidth = 16
		}
		if effHeight == 32 {
			effHeight = 16
		}
	}
	return effWidth, effHeight
}

// Quant runs the dependent-quantization trellis over one transform block.
// srcCoeffs is a Width*Height row-major array of transform-domain integer
// coefficients; fb supplies the live entropy-coder cost snapshot.
//
// It returns the signed quantized levels (row-major, same layout as
// srcCoeffs), the sum of their absolute values, and the scan index of the
// last (highest in scan order) nonzero level, or -1 if every level
// quantized to zero.
func (d *Driver) Quant(blk Block, srcCoeffs []int64, fb FracBitsAccess) (levels []int64, absSum int64, lastPos int, err error) {
	if err := validateShape(blk.Width, blk.Height, len(srcCoeffs)); err != nil {
		return nil, 0, -1, err
	}
	if blk.Lambda <= 0 {
		return nil, 0, -1, ErrInvalidLambda
	}
	if blk.ScalingList != nil && len(blk.ScalingList) != blk.Width*blk.Height {
		return nil, 0, -1, ErrCoeffLength
	}

	levels = make([]int64, len(srcCoeffs))

	if blk.TransformSkip {
		if !d.cfg.UseRdoqTS {
			return levels, 0, -1, nil
		}
		return d.roundOnly(blk, srcCoeffs, levels)
	}
	if !d.cfg.UseRdoq {
		return d.roundOnly(blk, srcCoeffs, levels)
	}

	tu := d.rom.TUParams(blk.Width, blk.Height, blk.Channel)
	qb := d.initQuantBlock(blk, -1)

	if cap(d.bufs.abs) < len(srcCoeffs) {
		d.bufs.abs = make([]int64, len(srcCoeffs))
	}
	absCoeffs := d.bufs.abs[:len(srcCoeffs)]
	for i, c := range srcCoeffs {
		absCoeffs[i] = util.Abs(c)
	}

	effWidth, effHeight := d.effectiveDims(blk.Width, blk.Height, blk.Channel)
	zeroOut := effWidth < blk.Width || effHeight < blk.Height
	zeroOutForThres := zeroOut || blk.Width > zeroOutThreshold || blk.Height > zeroOutThreshold
	zeroOutFn := func(posX, posY int) bool { return posX >= effWidth || posY >= effHeight }

	firstTestPos := minI(blk.Width, zeroOutThreshold)*minI(blk.Height, zeroOutThreshold) - 1
	if d.cfg.LfnstActive && blk.Width >= 4 && blk.Height >= 4 {
		if (blk.Width == 4 && blk.Height == 4) || (blk.Width == 8 && blk.Height == 8) {
			firstTestPos = 7
		} else {
			firstTestPos = 15
		}
	}

	for ; firstTestPos >= 0; firstTestPos-- {
		si := tu.ScanInfo[firstTestPos]
		if zeroOutForThres && zeroOutFn(si.PosX, si.PosY) {
			continue
		}
		var th int64
		if blk.ScalingList != nil {
			th = qb.ThresLast / (4 * blk.ScalingList[si.RasterPos])
		} else {
			th = qb.ThresLast / (qb.QScale << 2)
		}
		if absCoeffs[si.RasterPos] > th {
			break
		}
	}
	if firstTestPos < 0 {
		return levels, 0, -1, nil
	}

	quantAt := func(rasterPos int) (QuantBlock, int64) {
		if blk.ScalingList == nil {
			return qb, qb.QScale
		}
		qc := blk.ScalingList[rasterPos]
		return d.initQuantBlock(blk, qc), qc
	}

	re := NewRateEstimator(tu, fb, blk.CbfDeltaBits)
	levelsAbs, lastScanIdx := runTrellis(tu, re, absCoeffs, firstTestPos, zeroOutFn, quantAt, effWidth, effHeight, d.bufs)

	for scanIdx := 0; scanIdx <= lastScanIdx; scanIdx++ {
		l := levelsAbs[scanIdx]
		if l == 0 {
			continue
		}
		pos := tu.ScanInfo[scanIdx].RasterPos
		if srcCoeffs[pos] < 0 {
			levels[pos] = -l
		} else {
			levels[pos] = l
		}
		absSum += l
	}
	return levels, absSum, lastScanIdx, nil
}

func (d *Driver) initQuantBlock(blk Block, gValue int64) QuantBlock {
	return InitQuantBlock(blk.QP, blk.Width, blk.Height, d.cfg.BitDepth, d.cfg.MaxLog2TrDynamicRange, blk.Lambda, d.cfg.DqThresholdValue, gValue)
}

// roundOnly is the non-trellis fallback: round-to-nearest scalar
// quantization over the block's effective coded region, no rate model. Its
// levels use the
// plain (non-dependent) reconstruction grid, so they pair with a plain
// dequantizer, not with Dequant's DQ state replay.
func (d *Driver) roundOnly(blk Block, srcCoeffs, levels []int64) ([]int64, int64, int, error) {
	tu := d.rom.TUParams(blk.Width, blk.Height, blk.Channel)
	qb := d.initQuantBlock(blk, -1)
	effWidth, effHeight := d.effectiveDims(blk.Width, blk.Height, blk.Channel)

	absSum := int64(0)
	lastPos := -1
	for scanIdx := tu.NumCoeff - 1; scanIdx >= 0; scanIdx-- {
		si := tu.ScanInfo[scanIdx]
		if si.PosX >= effWidth || si.PosY >= effHeight {
			continue
		}
		qc := qb.QScale
		if blk.ScalingList != nil {
			qc = blk.ScalingList[si.RasterPos]
		}
		src := srcCoeffs[si.RasterPos]
		qIdx := qb.RoundNearest(util.Abs(src) * qc)
		if qIdx == 0 {
			continue
		}
		if src < 0 {
			levels[si.RasterPos] = -qIdx
		} else {
			levels[si.RasterPos] = qIdx
		}
		absSum += qIdx
		if lastPos < 0 {
			lastPos = scanIdx
		}
	}
	return levels, absSum, lastPos, nil
}

// Dequant reconstructs transform-domain coefficients from the signed levels
// Quant produced (or from any externally decoded level array of the same
// shape), replaying the 4-state DQ machine in *reverse* scan order — state
// 0 seeded at lastPos, walking down to scan index 0 — exactly mirroring
// vvenc dequantBlock's bitstream-parse direction: the decoder only
// ever learns levels from the last significant coefficient down to DC.
// lastPos is the scan index Quant returned.
func (d *Driver) Dequant(blk Block, levels []int64, lastPos int) ([]int64, error) {
	if err := validateShape(blk.Width, blk.Height, len(levels)); err != nil {
		return nil, err
	}
	tu := d.rom.TUParams(blk.Width, blk.Height, blk.Channel)
	out := make([]int64, len(levels))
	if lastPos < 0 {
		return out, nil
	}
	if lastPos >= tu.NumCoeff {
		return nil, ErrInvalidShape
	}
	if blk.DequantList != nil && len(blk.DequantList) != blk.Width*blk.Height {
		return nil, ErrCoeffLength
	}

	dq := blk
	if dq.Lambda <= 0 {
		dq.Lambda = 1
	}
	qb := d.initQuantBlock(dq, -1)

	state := 0
	if blk.DequantList == nil {
		for scanIdx := lastPos; scanIdx >= 0; scanIdx-- {
			si := tu.ScanInfo[scanIdx]
			level := levels[si.RasterPos]
			out[si.RasterPos] = qb.DequantOne(level, state)
			state = NextDequantState(state, level)
		}
		return out, nil
	}

	// scaling-list path: per-position inverse scale, with the list's
	// neutral-value shift folded into the common shift
	shiftRaw := qb.IqShiftRaw + log2ScalingListNeutral
	shift := uint(0)
	var add int64
	if shiftRaw > 0 {
		shift = uint(shiftRaw)
		add = (int64(1) << shift) >> 1
	}
	for scanIdx := lastPos; scanIdx >= 0; scanIdx-- {
		si := tu.ScanInfo[scanIdx]
		level := levels[si.RasterPos]
		if level != 0 {
			invScale := blk.DequantList[si.RasterPos]
			if shiftRaw < 0 {
				invScale <<= uint(-shiftRaw)
			}
			var qIdx int64
			if level > 0 {
				qIdx = 2*level - int64(state>>1)
			} else {
				qIdx = 2*level + int64(state>>1)
			}
			nom := (qIdx*invScale + add) >> shift
			if nom < qb.MinTCoeff {
				nom = qb.MinTCoeff
			}
			if nom > qb.MaxTCoeff {
				nom = qb.MaxTCoeff
			}
			out[si.RasterPos] = nom
		}
		state = NextDequantState(state, level)
	}
	return out, nil
}
