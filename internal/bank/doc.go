// Package bank is the collaborator boundary of the pattern knowledge store.
//
// It composes the store, similarity engine, confidence manager, namespace
// guard, and merge engine behind the three contracts external collaborators
// consume:
//
//   - The bug-capture collaborator calls LearnFromBug with a captured test
//     event; the bank builds a bug-derived pattern, assigns its initial
//     confidence from the severity table, and runs it through the merge
//     engine.
//   - Generation and query collaborators call QueryPatterns, a read-only
//     confidence-ordered scan.
//   - The administrative collaborator calls PassiveDecayPass on a schedule
//     it owns, or runs the DecayScheduler.
//
// The bank performs no file or network I/O and does not rank patterns
// beyond the confidence ordering the store provides.
package bank
