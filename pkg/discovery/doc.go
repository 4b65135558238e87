// Package discovery advertises and finds wincmesh gateways on the local
// IP network over mDNS. A gateway registers one _wincmesh._tcp instance
// whose TXT records carry its mesh identity and trace endpoint; tooling
// browses the service type to locate gateways without knowing their
// addresses.
//
// Discovery runs on the host network, not the mesh: it is how laptops
// and backend services find the node that bridges into the mesh.
package discovery
