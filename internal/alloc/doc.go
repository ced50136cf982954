// Package alloc computes token amounts. Everything here is a pure function.
//
// Amounts never pass through float64. Percentages are decimal.Decimal with
// two places of precision; payout scaling multiplies before it divides on
// math/big values so every result is a true floor.
package alloc
