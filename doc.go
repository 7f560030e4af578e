// Package depquant implements the dependent-quantization (DQ) trellis core
// of a VVC/H.266-style video encoder.
//
// Given one transform block of integer coefficients, a quantization
// parameter, a Lagrange multiplier, and a snapshot of fractional bit costs
// from the surrounding entropy coder, the core runs a 4-state
// rate-distortion trellis in reverse scan order and writes back the signed
// quantized level of every coefficient plus the scan position of the last
// nonzero one.
//
// The package is a pure function of its inputs: no I/O, no logging, and no
// trellis-storage allocation once a Driver has warmed up on a block shape
// (the Driver owns and reuses the trellis storage, so one Driver serves
// one producer goroutine). Each Quant call still allocates its output level
// slice and a fresh RateEstimator's cost tables. Transform computation,
// CABAC itself, TU/CU geometry and scan-order tables, scaling-list
// sourcing, and picture-level orchestration are all external collaborators
// named at the package boundary, not implemented here.
package depquant
