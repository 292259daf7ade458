// Package dedupe provides a bounded, time-windowed set of seen keys used to
// drop events that an at-least-once transport delivers more than once.
package dedupe
