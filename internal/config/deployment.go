// Package config loads service type and service instance deployment
// descriptors from JSONC files. shm consumes the deployment structs this
// package produces; this package does not import shm or discovery.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/aracom/lola/methodcall"
)

var (
	errConfigFileNotFound = errors.New("config: file not found")
	errConfigFileRead     = errors.New("config: could not read file")
	errConfigInvalid      = errors.New("config: invalid")
	errDuplicateElementId  = errors.New("config: duplicate element id")
	errQualityExceedsProcess = errors.New("config: instance quality exceeds process quality")
	errQueueSizeUnsupported  = errors.New("config: queue_size other than 1 is not supported")
)

// EventDeployment is the per-event instance configuration. Slots and
// MaxSubscribers default to runtime/layout-simulation decisions when nil.
type EventDeployment struct {
	Slots          *uint32 `json:"slots,omitempty"`
	MaxSubscribers *uint32 `json:"max_subscribers,omitempty"`
	TracingSlots   uint32  `json:"tracing_slots,omitempty"`
}

// FieldDeployment mirrors EventDeployment; fields behave like events plus
// an always-valid initial value, which is out of this core's scope.
type FieldDeployment struct {
	Slots          *uint32 `json:"slots,omitempty"`
	MaxSubscribers *uint32 `json:"max_subscribers,omitempty"`
	TracingSlots   uint32  `json:"tracing_slots,omitempty"`
}

// MethodDeployment is the per-method instance configuration.
type MethodDeployment struct {
	// QueueSize is validated against methodcall.CallQueueSize. A value
	// other than 1 is rejected rather than silently honoured or ignored.
	QueueSize *uint32 `json:"queue_size,omitempty"`
}

// Validate rejects a configured queue size other than the one this core
// actually implements.
func (m MethodDeployment) Validate(name string) error {
	if m.QueueSize != nil && *m.QueueSize != methodcall.CallQueueSize {
		return fmt.Errorf("%w: method %q requested queue_size %d, only %d is implemented", errQueueSizeUnsupported, name, *m.QueueSize, methodcall.CallQueueSize)
	}

	return nil
}

// ServiceTypeDeployment is the compile-time-static per-service-type
// descriptor: the set of element names and their numeric ids.
type ServiceTypeDeployment struct {
	ServiceId uint16            `json:"service_id"`
	EventId   map[string]uint16 `json:"event_id,omitempty"`
	FieldId   map[string]uint16 `json:"field_id,omitempty"`
	MethodId  map[string]uint16 `json:"method_id,omitempty"`
}

// Validate checks the invariant that event and field ids are disjoint
// within a single service type.
func (s ServiceTypeDeployment) Validate() error {
	seen := make(map[uint16]string, len(s.EventId)+len(s.FieldId))

	for name, id := range s.EventId {
		if other, ok := seen[id]; ok {
			return fmt.Errorf("%w: event %q and %q share id %d", errDuplicateElementId, name, other, id)
		}

		seen[id] = name
	}

	for name, id := range s.FieldId {
		if other, ok := seen[id]; ok {
			return fmt.Errorf("%w: field %q and %q share id %d", errDuplicateElementId, name, other, id)
		}

		seen[id] = name
	}

	return nil
}

// ProcessQuality is the ASIL quality the owning process declared for
// itself; ServiceInstanceDeployment.Validate checks against it.
type ProcessQuality int

const (
	ProcessQualityQM ProcessQuality = iota
	ProcessQualityASILB
)

// ServiceInstanceDeployment is the per-instance configuration. Optional
// fields defer their decision to runtime or layout simulation; an
// explicitly empty InstanceId string is preserved (not defaulted away) so
// "any instance" wildcard semantics survive a round trip through JSON.
type ServiceInstanceDeployment struct {
	InstanceId        *uint16                      `json:"instance_id,omitempty"`
	SharedMemorySize  *uint64                      `json:"shared_memory_size,omitempty"`
	ControlQMSize     *uint64                      `json:"control_qm_size,omitempty"`
	ControlBSize      *uint64                      `json:"control_b_size,omitempty"`
	Events            map[string]EventDeployment   `json:"events,omitempty"`
	Fields            map[string]FieldDeployment   `json:"fields,omitempty"`
	Methods           map[string]MethodDeployment  `json:"methods,omitempty"`
	AllowedConsumer   map[string][]uint32          `json:"allowed_consumer,omitempty"`
	AllowedProvider   map[string][]uint32          `json:"allowed_provider,omitempty"`
	StrictPermissions bool                         `json:"strict_permissions,omitempty"`
	Quality           ProcessQuality               `json:"-"`
}

// Validate checks that the instance's quality does not exceed the
// process's declared quality.
func (d ServiceInstanceDeployment) Validate(processQuality ProcessQuality) error {
	if d.Quality > processQuality {
		return fmt.Errorf("%w: instance quality %d > process quality %d", errQualityExceedsProcess, d.Quality, processQuality)
	}

	for name, m := range d.Methods {
		if err := m.Validate(name); err != nil {
			return err
		}
	}

	return nil
}

// LoadServiceTypeDeployment reads and parses a JSONC service type
// deployment descriptor at path, following the same Standardize-then-
// Unmarshal shape as every other config loader in this package.
func LoadServiceTypeDeployment(path string) (ServiceTypeDeployment, error) {
	var dep ServiceTypeDeployment

	data, err := readJSONC(path)
	if err != nil {
		return ServiceTypeDeployment{}, err
	}

	if err := json.Unmarshal(data, &dep); err != nil {
		return ServiceTypeDeployment{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	if err := dep.Validate(); err != nil {
		return ServiceTypeDeployment{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return dep, nil
}

// LoadServiceInstanceDeployment reads and parses a JSONC service instance
// deployment descriptor at path. explicitEmptyInstanceId reports whether
// instance_id was present in the file and set to the empty string/null,
// which the caller (discovery) treats as "any instance" rather than an
// unset-and-defaulted field.
func LoadServiceInstanceDeployment(path string) (dep ServiceInstanceDeployment, explicitEmptyInstanceId bool, err error) {
	data, err := readJSONC(path)
	if err != nil {
		return ServiceInstanceDeployment{}, false, err
	}

	var raw map[string]any

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	_ = dec.Decode(&raw)

	if val, exists := raw["instance_id"]; exists {
		if val == nil {
			explicitEmptyInstanceId = true
		} else if str, ok := val.(string); ok && str == "" {
			explicitEmptyInstanceId = true
			// An empty string does not decode into *uint16; drop it so the
			// typed decode below leaves InstanceId nil.
			delete(raw, "instance_id")
			data, _ = json.Marshal(raw)
		}
	}

	if err := json.Unmarshal(data, &dep); err != nil {
		return ServiceInstanceDeployment{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return dep, explicitEmptyInstanceId, nil
}

func readJSONC(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled deployment descriptor
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errConfigFileNotFound, path)
		}

		return nil, fmt.Errorf("%w: %s", errConfigFileRead, path)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w %s: invalid JSONC: %w", errConfigInvalid, path, err)
	}

	return standardized, nil
}
