// Package bus defines the serial-bus contract between the host and the
// wireless companion chip, plus the SPI command codec that implements it.
//
// Conn is the integration seam: one full-duplex transfer per call. SPI turns
// a Conn into the register/block operations (Bus) the rest of the driver
// consumes. Alternative Bus implementations exist for hosts without direct
// SPI access (package serialbridge) and for tests (package sim).
package bus
