// Package burn provides the domain types shared by every other listburn package.
//
// This package contains value types and transition rules only. It imports
// nothing internal, so ledger, engine, rewards and cli can all depend on it
// without cycles.
//
// Key design constraints:
//   - Status only moves forward: pending → confirmed → executed
//   - Stage changes go through NextStage, never by assigning fields
//   - Slugs are unique across every configured collection
//   - Allocation percentages are decimal.Decimal, never float64
package burn
