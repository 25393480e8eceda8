// Package logx wraps zerolog for vice.
//
// A Logger either writes through a Service, which can be re-applied at
// runtime when the config file changes, or owns a fixed zerolog logger
// (Nop, NewConsole, NewWriter). Console output is human readable with a
// short file:line caller, file output is JSON, and warnings can be
// forwarded to an AlertSink behind a rate limit.
package logx
