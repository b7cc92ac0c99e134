// Package harness runs recipe sync scenarios described in YAML.
//
// A scenario drives a real queue, reconciler and unified view against an
// in-memory recipe service, with a deterministic clock and sequential
// local ids, then checks assertions against the final state. Traces are
// stable across runs and can be compared against golden files.
//
// # Scenario Format
//
//	name: tarta_offline_then_online
//	description: "A recipe created offline is delivered once back online"
//	user: user-1
//	online: false
//	seed:
//	  - name: Flan
//	    userId: user-1
//	steps:
//	  - enqueue:
//	      name: Tarta
//	      ingredients: [{name: manzana}]
//	      steps: [hornear]
//	  - cycle: {skipped: offline}
//	  - online: true
//	  - cycle: {delivered: [Tarta]}
//	assertions:
//	  - type: queue
//	    names: []
//	  - type: server
//	    names: [Flan, Tarta]
//
// Each step performs exactly one action:
//
//   - enqueue: validate and queue a mutation
//   - edit: replace a pending entry by name
//   - discard: drop pending entries by name
//   - online: set connectivity
//   - sign_in / sign_out: change the signed-in user
//   - reject / accept: make the service fail or succeed for names
//   - cycle: run one reconciliation cycle, optionally checking its outcome
//   - refresh: reload the unified view
//   - requeue: move a dead-lettered entry back to the queue by name
//
// # Assertion Types
//
//   - queue: pending names, in order
//   - dead_letters: dead-lettered names, in order
//   - server: confirmed names held by the service, in order
//   - view: server and pending names of the unified view
//   - notified: names announced as delivered, in order
//   - calls: number of service calls with op and name
//   - attempts: failed attempt count of a pending entry
package harness
