// Package trace captures structured protocol events from every layer of the
// driver: raw bus transfers, HIF frames, socket lifecycle, and mesh traffic.
//
// Library code emits events through the Logger interface and never prints.
// The zero-cost default is NoopLogger. FileLogger persists events as a stream
// of CBOR records that Reader can replay and the winc-trace command can
// inspect offline. SlogAdapter bridges events into log/slog for interactive
// debugging, and MultiLogger fans out to several sinks at once.
package trace
