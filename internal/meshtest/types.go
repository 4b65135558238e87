// Package meshtest runs YAML-described mesh topology scenarios against
// the simulated radio medium. A scenario declares the nodes, the links
// the medium should swallow, the routes that must converge, and the
// payloads that must get through; the runner stands the topology up on
// sim.Air and drives every node's poll loop until the expectations hold.
package meshtest

import "fmt"

// Scenario is a single topology test loaded from YAML.
type Scenario struct {
	// Name identifies the scenario (e.g. "relay-chain").
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description,omitempty"`

	// Nodes are the mesh participants. The first AP-id node hosts the
	// carrier network; everyone else joins as a station.
	Nodes []NodeSpec `yaml:"nodes"`

	// BlockedLinks lists node pairs whose datagrams the medium drops,
	// in both directions. Association is not affected.
	BlockedLinks []Link `yaml:"blocked_links,omitempty"`

	// ExpectRoutes are routing table entries that must appear once the
	// network converges.
	ExpectRoutes []RouteExpect `yaml:"expect_routes,omitempty"`

	// Sends are payloads delivered across the converged mesh.
	Sends []SendSpec `yaml:"sends,omitempty"`

	// ExpectNoRoute are destinations a node must not have a route to
	// after convergence.
	ExpectNoRoute []NoRouteExpect `yaml:"expect_no_route,omitempty"`

	// Timeout bounds each convergence wait (e.g. "2s"). Defaults to 2s.
	Timeout string `yaml:"timeout,omitempty"`
}

// NodeSpec declares one mesh node.
type NodeSpec struct {
	// ID is the mesh address, 1-254.
	ID uint8 `yaml:"id"`

	// Name is the node display name.
	Name string `yaml:"name"`
}

// Link names an unordered node pair.
type Link struct {
	From uint8 `yaml:"from"`
	To   uint8 `yaml:"to"`
}

// RouteExpect describes a routing table entry that must converge.
type RouteExpect struct {
	// Node is whose table to inspect.
	Node uint8 `yaml:"node"`

	// To is the destination the entry points at.
	To uint8 `yaml:"to"`

	// Hops is the expected hop count. Zero means any.
	Hops uint8 `yaml:"hops,omitempty"`

	// Via is the expected next hop. Zero means any.
	Via uint8 `yaml:"via,omitempty"`
}

// SendSpec delivers one payload across the mesh.
type SendSpec struct {
	From    uint8  `yaml:"from"`
	To      uint8  `yaml:"to"`
	Payload string `yaml:"payload"`
}

// NoRouteExpect asserts the absence of a route.
type NoRouteExpect struct {
	Node uint8 `yaml:"node"`
	To   uint8 `yaml:"to"`
}

// LoadError describes a scenario that could not be loaded.
type LoadError struct {
	// File is the path the scenario came from, if any.
	File string

	// Message describes what went wrong.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Cause
}
