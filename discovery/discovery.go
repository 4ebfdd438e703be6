// Package discovery implements the filesystem-mediated service discovery
// crawler and inotify watch engine: turning flag files in a directory tree
// into typed offer/withdraw handles, with retry and invalid-entry
// tolerance.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/aracom/lola/identifier"
	"github.com/aracom/lola/internal/inotify"
	"github.com/aracom/lola/internal/vfs"
	"github.com/aracom/lola/lola"
	"github.com/aracom/lola/pathbuilder"
)

// Handle is a single discovered offer: the flag file's pid, quality, and
// monotonic disambiguator, plus the instance it was found under.
type Handle struct {
	InstanceId    identifier.InstanceId
	Pid           int
	Disambiguator int64
}

// CrawlResult splits crawl output by quality: separate QM and ASIL-B
// containers.
type CrawlResult struct {
	QM    []Handle
	ASILB []Handle
}

// Id selects what a crawl or watch operation targets: either a concrete
// instance, or "any instance" of a service.
type Id struct {
	ServiceId  identifier.ServiceId
	InstanceId *identifier.InstanceId
}

// IsInstanceBound reports whether Id names a concrete instance.
func (id Id) IsInstanceBound() bool { return id.InstanceId != nil }

// Discovery crawls and watches the filesystem-mediated discovery tree.
type Discovery struct {
	fs      vfs.Filesystem
	watcher inotify.Watcher
	roots   pathbuilder.Roots
	logger  *slog.Logger
}

// Option configures a Discovery at construction.
type Option func(*Discovery)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Discovery) { d.logger = logger }
}

// New builds a Discovery over the given collaborators. fs and watcher are
// dependency-injected so tests can substitute fakes.
func New(fs vfs.Filesystem, watcher inotify.Watcher, roots pathbuilder.Roots, opts ...Option) *Discovery {
	d := &Discovery{
		fs:      fs,
		watcher: watcher,
		roots:   roots,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Crawl is a pure enumeration of the search tree for id. Invalid
// subdirectories (names that don't parse as a u16 instance id) and
// entries of the wrong filesystem type are silently ignored: the
// filesystem is adversarial, not trusted. Errors from filesystem status calls
// propagate wrapped in lola.ErrBindingFailure.
func (d *Discovery) Crawl(id Id) (CrawlResult, error) {
	var result CrawlResult

	if id.IsInstanceBound() {
		dir := d.roots.InstanceDiscoveryDir(id.ServiceId, *id.InstanceId)

		if err := d.crawlInstanceDir(dir, *id.InstanceId, &result); err != nil {
			return CrawlResult{}, err
		}

		return result, nil
	}

	serviceDir := d.roots.ServiceDiscoveryDir(id.ServiceId)

	entries, err := d.fs.ReadDir(serviceDir)
	if err != nil {
		if isNotExist(err) {
			return result, nil
		}

		return CrawlResult{}, fmt.Errorf("discovery: crawl %s: %w", serviceDir, errors.Join(err, lola.ErrBindingFailure))
	}

	for _, entry := range entries {
		instanceId, ok := parseInstanceDirName(entry.Name())
		if !ok {
			continue
		}

		status, err := d.fs.Status(serviceDir + "/" + entry.Name())
		if err != nil {
			return CrawlResult{}, fmt.Errorf("discovery: status %s: %w", entry.Name(), errors.Join(err, lola.ErrBindingFailure))
		}

		if status.Kind != vfs.KindDirectory {
			continue
		}

		if err := d.crawlInstanceDir(serviceDir+"/"+entry.Name(), instanceId, &result); err != nil {
			return CrawlResult{}, err
		}
	}

	return result, nil
}

func (d *Discovery) crawlInstanceDir(dir string, instanceId identifier.InstanceId, result *CrawlResult) error {
	entries, err := d.fs.ReadDir(dir)
	if err != nil {
		if isNotExist(err) {
			return nil
		}

		return fmt.Errorf("discovery: crawl %s: %w", dir, errors.Join(err, lola.ErrBindingFailure))
	}

	for _, entry := range entries {
		status, err := d.fs.Status(dir + "/" + entry.Name())
		if err != nil {
			return fmt.Errorf("discovery: status %s: %w", entry.Name(), errors.Join(err, lola.ErrBindingFailure))
		}

		if status.Kind != vfs.KindRegular {
			continue
		}

		pid, quality, disambiguator, ok := parseFlagFileName(entry.Name())
		if !ok {
			continue
		}

		handle := Handle{InstanceId: instanceId, Pid: pid, Disambiguator: disambiguator}

		switch quality {
		case identifier.QualityQM:
			result.QM = append(result.QM, handle)
		case identifier.QualityASILB:
			result.ASILB = append(result.ASILB, handle)
		default:
			// Flag file with an unrecognised quality suffix: ignored.
		}
	}

	return nil
}

// WatchedId pairs a watch descriptor with the Id it was placed for.
type WatchedId struct {
	WatchDescriptor inotify.WatchDescriptor
	Id              Id
}

// CrawlAndWatch crawls id, then places inotify watches: for an
// instance-bound id, only the instance-id directory is watched; for
// instance-any, the service-id directory is watched plus every existing
// instance-id directory found during the crawl.
func (d *Discovery) CrawlAndWatch(id Id) (CrawlResult, []WatchedId, error) {
	result, err := d.Crawl(id)
	if err != nil {
		return CrawlResult{}, nil, err
	}

	if id.IsInstanceBound() {
		dir := d.roots.InstanceDiscoveryDir(id.ServiceId, *id.InstanceId)

		wd, err := d.watcher.AddWatch(dir, inotify.InCreate|inotify.InDelete|inotify.InMovedFrom|inotify.InMovedTo)
		if err != nil {
			return CrawlResult{}, nil, d.classifyWatchError(dir, err)
		}

		return result, []WatchedId{{WatchDescriptor: wd, Id: id}}, nil
	}

	serviceDir := d.roots.ServiceDiscoveryDir(id.ServiceId)

	serviceWd, err := d.watcher.AddWatch(serviceDir, inotify.InCreate|inotify.InDelete|inotify.InMovedFrom|inotify.InMovedTo)
	if err != nil {
		return CrawlResult{}, nil, d.classifyWatchError(serviceDir, err)
	}

	watched := []WatchedId{{WatchDescriptor: serviceWd, Id: id}}

	for _, instanceId := range distinctInstanceIds(result) {
		instanceId := instanceId
		dir := d.roots.InstanceDiscoveryDir(id.ServiceId, instanceId)

		wd, err := d.watcher.AddWatch(dir, inotify.InCreate|inotify.InDelete|inotify.InMovedFrom|inotify.InMovedTo)
		if err != nil {
			return CrawlResult{}, nil, d.classifyWatchError(dir, err)
		}

		watched = append(watched, WatchedId{WatchDescriptor: wd, Id: Id{ServiceId: id.ServiceId, InstanceId: &instanceId}})
	}

	return result, watched, nil
}

// CrawlAndWatchWithRetry retries CrawlAndWatch up to max attempts,
// re-crawling between attempts since a directory removed concurrently may
// reappear.
func (d *Discovery) CrawlAndWatchWithRetry(id Id, maxAttempts int) (CrawlResult, []WatchedId, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, watched, err := d.CrawlAndWatch(id)
		if err == nil {
			return result, watched, nil
		}

		lastErr = err
	}

	return CrawlResult{}, nil, lastErr
}

func (d *Discovery) classifyWatchError(path string, err error) error {
	if isPermission(err) {
		status, statErr := d.fs.Status(path)
		if statErr == nil {
			d.logger.Error("add_watch permission denied", "path", path, "mode", fmt.Sprintf("%o", status.Mode.Perm()))
		}
	}

	return fmt.Errorf("discovery: add_watch %s: %w", path, errors.Join(err, lola.ErrBindingFailure))
}

func distinctInstanceIds(result CrawlResult) []identifier.InstanceId {
	seen := make(map[identifier.InstanceId]bool)

	var out []identifier.InstanceId

	for _, h := range result.QM {
		if !seen[h.InstanceId] {
			seen[h.InstanceId] = true
			out = append(out, h.InstanceId)
		}
	}

	for _, h := range result.ASILB {
		if !seen[h.InstanceId] {
			seen[h.InstanceId] = true
			out = append(out, h.InstanceId)
		}
	}

	return out
}

// ConvertFromStringToInstanceId strictly parses s as a decimal u16. It
// rejects empty strings and strings containing non-decimal characters.
func ConvertFromStringToInstanceId(s string) (identifier.InstanceId, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty instance id string", errInvalidInstanceId)
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q contains a non-digit character", errInvalidInstanceId, s)
		}
	}

	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", errInvalidInstanceId, s, err)
	}

	return identifier.InstanceId(n), nil
}

var errInvalidInstanceId = errors.New("discovery: invalid instance id")

// ParseQualityTypeFromString delegates to identifier.ParseQualityTypeFromString;
// exposed here too as a Discovery operation.
func ParseQualityTypeFromString(s string) identifier.QualityType {
	return identifier.ParseQualityTypeFromString(s)
}

func parseInstanceDirName(name string) (identifier.InstanceId, bool) {
	id, err := ConvertFromStringToInstanceId(name)
	if err != nil {
		return 0, false
	}

	return id, true
}

// parseFlagFileName parses "<pid>_<quality>_<disambiguator>". A malformed
// name (wrong field count, non-numeric pid/disambiguator) is reported via
// ok=false so the caller silently skips it.
func parseFlagFileName(name string) (pid int, quality identifier.QualityType, disambiguator int64, ok bool) {
	parts := strings.SplitN(name, "_", 3)
	if len(parts) != 3 {
		return 0, identifier.QualityInvalid, 0, false
	}

	pidVal, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, identifier.QualityInvalid, 0, false
	}

	disambVal, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, identifier.QualityInvalid, 0, false
	}

	return pidVal, identifier.ParseQualityTypeFromString(parts[1]), disambVal, true
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func isPermission(err error) bool {
	return errors.Is(err, os.ErrPermission)
}
