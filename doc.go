// Package impact computes the blast radius of an infrastructure entity
// change: the set of acceptance test functions that must re-run when a named
// entity's shape changes. It finds direct references inside configuration
// template helpers, indirect references through helper call chains, and
// sequential references through declared ordered sub-test sets, and persists
// everything in a SQLite database that can be re-queried without rescanning.
package impact
