// Package domain holds the core types and pure logic of the crop fusion
// service: readings, alerts, source records, threshold rules, and the
// illuminance estimation used when no physical light sensor reports.
//
// Nothing in this package performs I/O. Time is read through an injectable
// clock (SetClock) so construction and estimation are deterministic in tests.
package domain
