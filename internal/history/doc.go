// Package history archives inbound private messages in SQLite.
//
// The archive serves three lookups the proactive pipeline needs:
//   - the most recent user message of a channel (silence detection)
//   - a short recent transcript (prompt building)
//   - enumeration of all known private channels (scan candidates)
package history
