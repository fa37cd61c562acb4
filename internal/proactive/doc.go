// Package proactive decides when the bot should reach out to a quiet
// private chat, and remembers enough history to enforce rate limits across
// restarts.
//
// Three pieces:
//   - Store: durable per-channel counters and dedup history, persisted to a
//     single JSON snapshot with debounced, crash-safe writes.
//   - Evaluator: the fire/no-fire decision, a fixed chain of gates over a
//     Settings snapshot plus Store reads.
//   - Engine: the periodic scan loop and the trigger pipeline
//     (history -> prompt -> generation -> dedup -> delivery -> record).
package proactive
