// Package ir provides the neutral document model for viewkit.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps ir
// the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Documents, view keys and view values are all Value
//   - Numbers are float64, matching the store's key model
//   - Map and reduce logic is expressed as Go closures over Value; the
//     text a store executes is produced later by a compiler dialect
//   - Digests and revisions are computed over canonical JSON only
package ir
