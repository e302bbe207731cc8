// Package id provides sortable 128-bit identifiers, used to tag failure
// detection rounds and other per-node events in logs.
//
// Usage
//
//	g := id.NewGenerator()
//	round := g.Next()
//	s := round.String()  // 32 hex chars
//	same, _ := id.Parse(s)
package id
