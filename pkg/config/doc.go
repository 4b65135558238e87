// Package config loads node configuration from YAML files for the
// command-line programs. The schema covers the node identity, the serial
// link to the chip, the carrier network credentials, mesh timing
// overrides, trace output and the gateway endpoint. Unknown keys are
// rejected so typos fail loudly instead of silently falling back to a
// default.
package config
