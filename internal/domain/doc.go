// Package domain holds the core types for whitewater reach processing.
//
// A Reach is a runnable segment of river between two access points: the
// put-in, where boats go on the water, and the take-out, where they come
// off. Reach records arrive with hand-digitized access coordinates that
// rarely sit exactly on the hydrographic network, so before a reach can
// be mapped its accesses are snapped to the nearest flowline and the
// river course between them is traced along the network.
//
// Snapping yields a linear reference for each access: the identifier of
// the flowline it landed on plus a measure, a scalar position along that
// flowline. Tracing consumes two linear references and produces the
// ordered flowline segments connecting them, which this package
// concatenates into a single polyline.
//
// The types here are plain data owned by the caller for the duration of
// one update cycle. Nothing in this package performs I/O; the WATERS
// client and the feature-service publisher operate on these values from
// the outside.
package domain
