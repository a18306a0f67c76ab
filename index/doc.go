// Package index implements a B+-tree over a replicated blob store.
//
// Every tree node is a Page stored as one blob. The root lives at the
// caller's start url, the accounting record next to it under ".meta", and
// every other page at "<start key>.<n>" with n taken from the meta's page
// allocator. Leaves chain left to right through their Next urls, which is
// what iteration and recovery walk.
//
// Replica groups may diverge: a writer that loses a group keeps going
// against the rest, narrowing its session to the groups that still accept
// writes. Every committed mutation bumps the meta generation, so on open the
// groups vote by generation. The highest generation wins, its pages are
// copied into every lagging group, and the healed groups rejoin the session.
// A group whose transport reports it permanently unreachable (ErrGroupGone)
// sits recovery out entirely.
//
// One writer per index. Readers may open concurrently with a writer and see
// any committed generation at or before the writer's; they never see a torn
// page, but a multi-page mutation is observable half-applied by an opener
// running between its writes.
package index
