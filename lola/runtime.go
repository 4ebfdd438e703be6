package lola

import (
	"log/slog"

	"github.com/aracom/lola/internal/vfs"
)

// Runtime bundles the collaborators production code threads through
// shm.New and discovery.New explicitly, replacing the process-wide
// Runtime::InjectMock / SharedMemoryFactory::InjectMock style singletons
// some bindings use only as a test affordance for package-global mutable
// state.
type Runtime struct {
	Logger     *slog.Logger
	Filesystem vfs.Filesystem
}

// NewRuntime builds a production Runtime: a Real filesystem and the
// default slog logger (call lola.ConfigureLogging first to control its
// level and destination).
func NewRuntime() *Runtime {
	return &Runtime{
		Logger:     slog.Default(),
		Filesystem: vfs.NewReal(),
	}
}

// WithLogger returns a copy of r using logger for subsequent component
// construction.
func (r *Runtime) WithLogger(logger *slog.Logger) *Runtime {
	clone := *r
	clone.Logger = logger

	return &clone
}

// WithFilesystem returns a copy of r using fs for subsequent component
// construction, for example a vfs.Fake.
func (r *Runtime) WithFilesystem(fs vfs.Filesystem) *Runtime {
	clone := *r
	clone.Filesystem = fs

	return &clone
}
