// Package harness runs YAML cascade scenarios against a real engine.
//
// Each scenario gets a scratch SQLite database, a fixed clock and fixed
// session ids, so the trace of refreshes is reproducible and can be
// compared against golden files.
//
// # Scenario Format
//
//	name: order_totals
//	description: "Line edits roll up into order summaries"
//	setup: |
//	  CREATE TABLE order_lines (line_id INTEGER PRIMARY KEY, order_id INTEGER, qty INTEGER, price INTEGER);
//	entities: |
//	  entities: order_line: { source: "order_lines", key: "line_id", query: "..." }
//	steps:
//	  - exec: INSERT INTO order_lines VALUES (1, 7, 1, 100)
//	  - commit: true
//	  - savepoint: sp1
//	  - rollback_to: sp1
//	  - prepare: gid-1
//	  - restart: true
//	  - commit_prepared: gid-1
//	  - refresh: missing
//	    expect_error: TV001
//	assertions:
//	  - type: document
//	    entity: order_summary
//	    pk: 7
//	    expect: { total: 100 }
//	  - type: final_state
//	    table: order_lines
//	    where: { line_id: 1 }
//	    expect: { qty: 1 }
//
// Definitions come either inline (entities) or from a directory of CUE
// files relative to the scenario (entities_dir). They are registered in
// dependency order after setup has run.
//
// # Steps
//
// exec and savepoint open a transaction when none is open; commit,
// rollback, prepare, rollback_to and release need one. commit_prepared,
// rollback_prepared, refresh, drop and restart need none to be open.
//
// # Assertion Types
//
//   - document: a document exists and contains the expected fields
//   - absent: a document does not exist
//   - document_count: an entity holds exactly count documents
//   - refresh_count: the trace holds exactly count refreshes with action
//   - final_state: queries a table and verifies expected values
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/order_totals.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
