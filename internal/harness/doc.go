// Package harness runs YAML scenarios against a fresh in-memory factory and
// records a deterministic trace of every step.
//
// # Scenario Format
//
//	name: people_basics
//	description: "Add, look up and walk a people store"
//	database: app
//	schema:
//	  stores:
//	    - name: people
//	      keyPath: id
//	      autoIncrement: true
//	      indexes:
//	        - name: byName
//	          keyPath: name
//	steps:
//	  - op: add
//	    store: people
//	    value: { name: Ann }
//	    expect: 1
//	  - op: get
//	    store: people
//	    index: byName
//	    query: Ann
//	    expect: { id: 1, name: Ann }
//	  - op: add
//	    store: people
//	    value: { id: 1, name: Bob }
//	    expectError: ConstraintError
//	assertions:
//	  - type: count
//	    store: people
//	    count: 1
//
// The schema is applied with compiler.Apply before the first step. Every
// step runs in its own read-write transaction scoped to its store, so a
// failing step rolls back alone.
//
// # Queries
//
// A query is either a raw key (1, "Ann", [2024, "a"]) or a range mapping
// with any of lower, upper, lowerOpen and upperOpen.
//
// # Step Ops
//
//   - add, put: value (and key for out-of-line stores); result is the key
//   - get, getKey: query; result is the value or primary key, or null
//   - delete: query
//   - clear
//   - count: optional query; result is the number of records or entries
//   - cursor: optional query, direction and keyOnly; result is the list of
//     visited entries
//
// get, getKey, count and cursor accept an index.
//
// # Assertion Types
//
//   - count: the store or index holds count entries in query
//   - record: get(query) on the store or index equals expect
package harness
