// Package shared holds code used across plughub packages that belongs to no
// single layer.
//
// The testutil subpackage provides:
//
//	- License fixtures: keys with known secrets, plugins, activations
//	- A controllable clock
//	- A buffered slog handler with log assertions
package shared
