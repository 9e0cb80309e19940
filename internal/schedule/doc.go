// Package schedule computes concrete fire instants from a stored schedule.
//
// Everything here is pure: callers pass the current time explicitly so the same
// inputs always produce the same instants. Supported forms:
//   - Absolute: a single instant
//   - Cron: a five-field expression (minute hour day-of-month month day-of-week)
//   - Lead offsets: positive minute offsets derived from an absolute instant
package schedule
