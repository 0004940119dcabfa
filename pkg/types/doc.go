// Package types defines the shared data model for the graphmem engine:
// bitemporal graph nodes and edges, incoming conversational messages,
// query filters, and search results.
//
// Every graph unit carries two independent timelines:
//
//   - transaction time: CreatedAt / ExpiredAt — when the system recorded
//     and retired the unit.
//   - valid time: ValidAt / InvalidAt — when the fact the unit describes
//     was true in the world.
//
// Units are never physically deleted on supersession; a superseded edge
// has InvalidAt set and stays in the store so the graph can be
// reconstructed as of any point in time.
package types
