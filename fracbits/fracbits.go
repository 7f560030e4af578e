// Package fracbits implements an adaptive binary-context probability model
// that reports its own coding cost as a fixed-point fractional bit count,
// the same shape an entropy coder's tell-frac query exposes.
// It is a standalone cost model, not a bitstream entropy coder: nothing
// here reads or writes coded bits, it only tracks probability state and
// answers "what would bin b cost right now."
package fracbits

import "math"

const (
	// totalBits is the fixed-point width of a probability value
	// (1<<totalBits states).
	totalBits = 15
	total     = 1 << totalBits

	// scaleBits is the fixed-point width of a returned bit-cost value, one
	// bit cost unit is 1/(1<<scaleBits) of a bit. Matches the core
	// package's own SCALE_BITS so callers can mix the two without
	// rescaling.
	scaleBits = 15
	scaleOne  = 1 << scaleBits

	// adaptRate controls how quickly a context's probability estimate
	// moves towards the most recently observed bin, mirroring a typical
	// CABAC-style exponential context update.
	adaptRate = 5
)

// Context is one adaptive binary probability estimate: p is the current
// probability of bit 0, in Q(totalBits).
type Context struct {
	p uint32
}

// NewContext returns a fresh 50/50 context.
func NewContext() Context {
	return Context{p: total / 2}
}

// Update folds in an observed bin (0 or 1), moving the probability
// estimate toward it by 1/(1<<adaptRate) of the remaining distance, the
// usual exponential CABAC-style context update.
func (c *Context) Update(bit int) {
	if bit == 0 {
		c.p += (total - c.p) >> adaptRate
	} else {
		c.p -= c.p >> adaptRate
	}
	if c.p < 1 {
		c.p = 1
	}
	if c.p > total-1 {
		c.p = total - 1
	}
}

// Bits returns the current {cost of bit=0, cost of bit=1} pair in
// Q(scaleBits), the fixed-point fractional-bit cost TellFrac-style APIs
// report.
func (c Context) Bits() [2]int64 {
	return [2]int64{costFix(c.p), costFix(total - c.p)}
}

// costFix returns the Q(scaleBits) fixed-point cost of an event with
// probability p/total: -log2(p/total) * (1<<scaleBits).
func costFix(p uint32) int64 {
	if p < 1 {
		p = 1
	}
	bits := -math.Log2(float64(p) / float64(total))
	return int64(math.Round(bits * float64(scaleOne)))
}

// bank is a lazily-populated set of contexts keyed by small integer context
// ids, the common shape every one of Model's bin families uses.
type bank struct {
	ctx map[int]*Context
}

func newBank() bank { return bank{ctx: make(map[int]*Context)} }

func (b bank) get(ctxID int) *Context {
	c, ok := b.ctx[ctxID]
	if !ok {
		c = ctxPtr()
		b.ctx[ctxID] = c
	}
	return c
}

func ctxPtr() *Context {
	c := NewContext()
	return &c
}

// Model is a bank of adaptive contexts keyed by small integer context ids,
// grouped the way the core package's FracBitsAccess contract expects:
// three significance-flag context sets (DQ states 0 and 1 share set 0,
// states 2 and 3 read sets 1 and 2), the three coefficient remainder-bin
// families (parity, greater-than-1, greater-than-3) xSetGtxFlagBits
// combines into a six-way magnitude-class cost, the sub-block significance
// flag, and the last-position prefix bins for both axes.
type Model struct {
	sig    [3]bank
	par    bank
	gt1    bank
	gt2    bank
	sigSbb [2]*Context
	lastX  bank
	lastY  bank
}

// NewModel returns a Model with every context freshly initialized to
// 50/50, the state of an entropy coder at the start of a slice.
func NewModel() *Model {
	return &Model{
		sig:    [3]bank{newBank(), newBank(), newBank()},
		par:    newBank(),
		gt1:    newBank(),
		gt2:    newBank(),
		sigSbb: [2]*Context{ctxPtr(), ctxPtr()},
		lastX:  newBank(),
		lastY:  newBank(),
	}
}

// SigFlagBits implements the core package's FracBitsAccess.
func (m *Model) SigFlagBits(ctxSetID, ctxID int) [2]int64 {
	if ctxSetID < 0 || ctxSetID > 2 {
		ctxSetID = 0
	}
	return m.sig[ctxSetID].get(ctxID).Bits()
}

// ParFlagBits implements the core package's FracBitsAccess.
func (m *Model) ParFlagBits(ctxID int) [2]int64 { return m.par.get(ctxID).Bits() }

// Gt1FlagBits implements the core package's FracBitsAccess.
func (m *Model) Gt1FlagBits(ctxID int) [2]int64 { return m.gt1.get(ctxID).Bits() }

// Gt2FlagBits implements the core package's FracBitsAccess.
func (m *Model) Gt2FlagBits(ctxID int) [2]int64 { return m.gt2.get(ctxID).Bits() }

// SigSbbFracBits implements the core package's FracBitsAccess.
func (m *Model) SigSbbFracBits(ctxID int) [2]int64 {
	if ctxID < 0 || ctxID > 1 {
		ctxID = 0
	}
	return m.sigSbb[ctxID].Bits()
}

// LastXFracBits implements the core package's FracBitsAccess.
func (m *Model) LastXFracBits(ctxID int) [2]int64 { return m.lastX.get(ctxID).Bits() }

// LastYFracBits implements the core package's FracBitsAccess.
func (m *Model) LastYFracBits(ctxID int) [2]int64 { return m.lastY.get(ctxID).Bits() }

// ObserveSig updates the relevant significance-flag context after a real
// coding decision is known, so repeated Quant calls against one live Model
// track a real adapting entropy-coder state across blocks, the way a CABAC
// engine would between successive TUs.
func (m *Model) ObserveSig(ctxSetID, ctxID, bit int) {
	if ctxSetID < 0 || ctxSetID > 2 {
		ctxSetID = 0
	}
	m.sig[ctxSetID].get(ctxID).Update(bit)
}

// ObservePar updates the parity remainder-bin context.
func (m *Model) ObservePar(ctxID, bit int) { m.par.get(ctxID).Update(bit) }

// ObserveGt1 updates the greater-than-1 remainder-bin context.
func (m *Model) ObserveGt1(ctxID, bit int) { m.gt1.get(ctxID).Update(bit) }

// ObserveGt2 updates the greater-than-3 remainder-bin context.
func (m *Model) ObserveGt2(ctxID, bit int) { m.gt2.get(ctxID).Update(bit) }

// ObserveSigSbb updates the sub-block significance flag context.
func (m *Model) ObserveSigSbb(ctxID, bit int) {
	if ctxID < 0 || ctxID > 1 {
		ctxID = 0
	}
	m.sigSbb[ctxID].Update(bit)
}

// ObserveLastX / ObserveLastY update a last-position prefix bin context.
func (m *Model) ObserveLastX(ctxID, bit int) { m.lastX.get(ctxID).Update(bit) }
func (m *Model) ObserveLastY(ctxID, bit int) { m.lastY.get(ctxID).Update(bit) }
