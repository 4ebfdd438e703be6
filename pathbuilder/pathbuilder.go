// Package pathbuilder computes the canonical filesystem paths the binding
// agrees on with every other process on the machine: shared-memory object
// names, partial-restart marker paths, and the service discovery tree.
// Every function here is pure — no filesystem access, no state — so names
// can be pinned bit-exactly in tests.
package pathbuilder

import (
	"fmt"

	"github.com/aracom/lola/identifier"
)

// Roots carries the platform-dependent base directories the rest of this
// package's paths are rooted under. Production code obtains one Roots
// value at startup (see DefaultRoots); tests construct their own to keep
// assertions independent of the host filesystem.
type Roots struct {
	// PartialRestartDir is where existence and usage markers live.
	PartialRestartDir string
	// DiscoveryRoot is where the service discovery tree is rooted.
	DiscoveryRoot string
}

// DefaultRoots returns the production roots for the given platform tmp
// directory, using the conventional "<platform_tmp>/mw_com_lola/..." layout.
func DefaultRoots(platformTmp string) Roots {
	base := platformTmp + "/mw_com_lola"

	return Roots{
		PartialRestartDir: base + "/partial_restart",
		DiscoveryRoot:     base + "/service_discovery",
	}
}

// DataShmName returns the global (leading-slash) shared memory object name
// for the data region of (serviceId, instanceId).
func DataShmName(serviceId identifier.ServiceId, instanceId identifier.InstanceId) string {
	return fmt.Sprintf("/lola-data-%016x-%05x", uint16(serviceId), uint16(instanceId))
}

// ControlShmNameQM returns the global shared memory object name for the QM
// control region of (serviceId, instanceId).
func ControlShmNameQM(serviceId identifier.ServiceId, instanceId identifier.InstanceId) string {
	return fmt.Sprintf("/lola-ctl-%016x-%05x", uint16(serviceId), uint16(instanceId))
}

// ControlShmNameASILB returns the global shared memory object name for the
// ASIL-B control region of (serviceId, instanceId).
func ControlShmNameASILB(serviceId identifier.ServiceId, instanceId identifier.InstanceId) string {
	return ControlShmNameQM(serviceId, instanceId) + "-b"
}

// ExistenceMarkerPath returns the partial-restart existence marker path
// for (serviceId, instanceId).
func (r Roots) ExistenceMarkerPath(serviceId identifier.ServiceId, instanceId identifier.InstanceId) string {
	return fmt.Sprintf("%s/existence-%016x-%05x", r.PartialRestartDir, uint16(serviceId), uint16(instanceId))
}

// UsageMarkerPath returns the partial-restart usage marker path for
// (serviceId, instanceId).
func (r Roots) UsageMarkerPath(serviceId identifier.ServiceId, instanceId identifier.InstanceId) string {
	return fmt.Sprintf("%s/usage-%016x-%05x", r.PartialRestartDir, uint16(serviceId), uint16(instanceId))
}

// ServiceDiscoveryDir returns the directory a crawler reads for a given
// service id, decimal-named.
func (r Roots) ServiceDiscoveryDir(serviceId identifier.ServiceId) string {
	return fmt.Sprintf("%s/%d", r.DiscoveryRoot, uint16(serviceId))
}

// InstanceDiscoveryDir returns the innermost directory a crawler reads for
// a given (service id, instance id) pair.
func (r Roots) InstanceDiscoveryDir(serviceId identifier.ServiceId, instanceId identifier.InstanceId) string {
	return fmt.Sprintf("%s/%d", r.ServiceDiscoveryDir(serviceId), uint16(instanceId))
}

// FlagFileName builds the flag file name that announces an offer:
// "<pid>_<quality>_<disambiguator>".
func FlagFileName(pid int, quality identifier.QualityType, disambiguator int64) string {
	return fmt.Sprintf("%d_%s_%d", pid, quality, disambiguator)
}

// FlagFilePath joins the instance discovery directory with a flag file
// name built from the given offer parameters.
func (r Roots) FlagFilePath(serviceId identifier.ServiceId, instanceId identifier.InstanceId, pid int, quality identifier.QualityType, disambiguator int64) string {
	return r.InstanceDiscoveryDir(serviceId, instanceId) + "/" + FlagFileName(pid, quality, disambiguator)
}
