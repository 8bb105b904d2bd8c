// Package orchestrator implements the Orchestrator-Workers pattern for
// coordinating a pool of independently-prompted worker agents under a
// single controlling agent.
//
// Architecture:
//
//	Controlling Agent
//	        ↓
//	┌─────────────────┐
//	│  Orchestrator   │ ← routing + shared context + history
//	└────────┬────────┘
//	         │
//	    ┌────┴────┐
//	    ↓         ↓
//	┌───────┐ ┌───────┐
//	│ coder │ │tester │  ← Worker agents (capability-profiled)
//	└───────┘ └───────┘
//	    │         │
//	    └────┬────┘
//	         ↓
//	┌─────────────────┐
//	│   Aggregator    │ ← merge outcomes into one result
//	└─────────────────┘
//
// Key features:
//   - Keyword-driven task routing against worker capability profiles
//   - Hybrid execution: bounded concurrent fan-out, dedicated worker
//     pool for compute-heavy batches, or strict sequential execution
//   - Per-task timeout, priority ordering, and opt-in retry with
//     exponential backoff
//   - Bulkhead isolation: one task's failure never aborts its siblings
//   - Result aggregation with success/partial/failure classification
package orchestrator
