// oast holds the well-known constants shared between the deployer CLI and the
// on-instance bootstrap agent: the listener port set of the interaction
// server, the persistent volume layout, and the marker tag used to scope
// authorization for resource reclamation.
package oast

import "path"

// Marker tag. Applied to every instance at launch (via the launch template's
// tag specifications, never post-hoc) and matched by the IAM policy condition
// that authorizes volume reclamation from a dying predecessor.
const (
	MarkerTagKey   = "oastkeeper:server"
	MarkerTagValue = "true"
)

// Port describes one listener the interaction server exposes. Every port is
// opened to both IPv4 and IPv6 sources.
type Port struct {
	Number   int32
	Protocol string // "tcp" or "udp"
	Service  string
}

// ListenerPorts is the fixed port set the workload serves. The service is
// either fully up on all of these or fully down during a replacement window;
// there is no partial-service mode.
func ListenerPorts() []Port {
	return []Port{
		{Number: 21, Protocol: "tcp", Service: "ftp"},
		{Number: 25, Protocol: "tcp", Service: "smtp"},
		{Number: 53, Protocol: "tcp", Service: "dns"},
		{Number: 53, Protocol: "udp", Service: "dns"},
		{Number: 80, Protocol: "tcp", Service: "http"},
		{Number: 389, Protocol: "tcp", Service: "ldap"},
		{Number: 443, Protocol: "tcp", Service: "https"},
		{Number: 465, Protocol: "tcp", Service: "smtps"},
		{Number: 587, Protocol: "tcp", Service: "smtp-submission"},
	}
}

// Persistent volume layout. Everything the service must not lose across an
// instance replacement lives under the mount root; nothing outside it
// survives.
const (
	DefaultMountPath = "/opt/oast"

	// Subdirectory names under the mount root.
	EventStoreDir = "data"
	HTTPServeDir  = "www"
	FTPServeDir   = "ftp"
)

// VolumeSubdirs returns the absolute paths of the service subdirectories for
// the given mount root. They are created at bootstrap if absent.
func VolumeSubdirs(root string) []string {
	return []string{
		path.Join(root, EventStoreDir),
		path.Join(root, HTTPServeDir),
		path.Join(root, FTPServeDir),
	}
}

// Block device naming. The volume is always attached at the fixed device
// name; on Nitro instances the kernel surfaces it as an NVMe device instead,
// which the bootstrap resolves by EBS volume ID serial.
const (
	DeviceName = "/dev/sdf"
)

// Workload defaults.
const (
	// DefaultImage is the interaction server image reference. "latest" is
	// acceptable here since the server's startup is agnostic to the image's
	// change history; deployments wanting reproducibility pin a digest.
	DefaultImage = "projectdiscovery/interactsh:latest"

	// DefaultContainerName is the name the bootstrap gives the workload
	// container so reruns can find and replace it.
	DefaultContainerName = "oast-server"
)
