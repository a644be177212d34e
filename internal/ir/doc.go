// Package ir provides the core data types shared by every cascade package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps IR
// the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Identifiers are a tagged variant (string or dictionary), never probed
//     through reflection
//   - Canonical id strings are RFC 8785 JSON so that ids hash and compare
//     identically everywhere
//   - Logical clocks (seq) only, never wall-clock timestamps
//   - All JSON tags use snake_case
package ir
