package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aracom/lola/identifier"
	"github.com/aracom/lola/internal/inotify"
	"github.com/aracom/lola/internal/vfs"
	"github.com/aracom/lola/pathbuilder"
)

func newTestDiscovery(t *testing.T) (*Discovery, *vfs.Fake, *inotify.Fake, pathbuilder.Roots) {
	t.Helper()

	fs := vfs.NewFake()
	watcher := inotify.NewFake()
	roots := pathbuilder.Roots{DiscoveryRoot: "/disc"}

	require.NoError(t, fs.CreateDirectories(roots.DiscoveryRoot, 0o755))

	return New(fs, watcher, roots), fs, watcher, roots
}

// TestCrawlMixedTree exercises a directory tree mixing valid entries,
// malformed ones, and entries of the wrong filesystem type.
func TestCrawlMixedTree(t *testing.T) {
	t.Parallel()

	d, fs, _, roots := newTestDiscovery(t)

	serviceId := identifier.ServiceId(1)

	inst1 := roots.InstanceDiscoveryDir(serviceId, identifier.InstanceId(1))
	inst2 := roots.InstanceDiscoveryDir(serviceId, identifier.InstanceId(2))

	require.NoError(t, fs.CreateDirectories(inst1, 0o755))
	require.NoError(t, fs.CreateDirectories(inst2, 0o755))
	require.NoError(t, fs.CreateRegularFile(inst1+"/100_asil-qm_1", 0o644))
	require.NoError(t, fs.CreateRegularFile(inst2+"/200_asil-qm_1", 0o644))
	require.NoError(t, fs.CreateRegularFile(inst1+"/100_asil-b_2", 0o644))
	require.NoError(t, fs.CreateRegularFile(inst2+"/200_asil-b_2", 0o644))

	require.NoError(t, fs.CreateDirectories(roots.ServiceDiscoveryDir(serviceId)+"/invalid_directory_name", 0o755))

	result, err := d.Crawl(Id{ServiceId: serviceId})
	require.NoError(t, err)
	require.Len(t, result.QM, 2)
	require.Len(t, result.ASILB, 2)
}

func TestCrawlIgnoresInvalidEntries(t *testing.T) {
	t.Parallel()

	d, fs, _, roots := newTestDiscovery(t)

	serviceId := identifier.ServiceId(7)
	serviceDir := roots.ServiceDiscoveryDir(serviceId)

	// Regular file at the service-id level where a directory is expected.
	require.NoError(t, fs.CreateRegularFile(serviceDir+"/stray_file", 0o644))

	// Directory with a non-numeric name.
	require.NoError(t, fs.CreateDirectories(serviceDir+"/not_a_number", 0o755))

	// Valid instance directory with a directory in place of a flag file.
	inst := roots.InstanceDiscoveryDir(serviceId, identifier.InstanceId(3))
	require.NoError(t, fs.CreateDirectories(inst, 0o755))
	require.NoError(t, fs.CreateDirectories(inst+"/looks_like_a_flag_file_but_is_a_dir", 0o755))

	result, err := d.Crawl(Id{ServiceId: serviceId})
	require.NoError(t, err)
	require.Empty(t, result.QM)
	require.Empty(t, result.ASILB)
}

func TestCrawlInstanceBoundReadsOnlyThatDirectory(t *testing.T) {
	t.Parallel()

	d, fs, _, roots := newTestDiscovery(t)

	serviceId := identifier.ServiceId(1)
	inst1 := identifier.InstanceId(1)
	inst2 := identifier.InstanceId(2)

	dir1 := roots.InstanceDiscoveryDir(serviceId, inst1)
	dir2 := roots.InstanceDiscoveryDir(serviceId, inst2)

	require.NoError(t, fs.CreateDirectories(dir1, 0o755))
	require.NoError(t, fs.CreateDirectories(dir2, 0o755))
	require.NoError(t, fs.CreateRegularFile(dir1+"/1_asil-qm_1", 0o644))
	require.NoError(t, fs.CreateRegularFile(dir2+"/2_asil-qm_1", 0o644))

	result, err := d.Crawl(Id{ServiceId: serviceId, InstanceId: &inst1})
	require.NoError(t, err)
	require.Len(t, result.QM, 1)
	require.Equal(t, inst1, result.QM[0].InstanceId)
}

func TestCrawlAndWatchInstanceBoundWatchesOnlyInstanceDir(t *testing.T) {
	t.Parallel()

	d, fs, watcher, roots := newTestDiscovery(t)

	serviceId := identifier.ServiceId(1)
	inst := identifier.InstanceId(1)
	dir := roots.InstanceDiscoveryDir(serviceId, inst)
	require.NoError(t, fs.CreateDirectories(dir, 0o755))

	_, watched, err := d.CrawlAndWatch(Id{ServiceId: serviceId, InstanceId: &inst})
	require.NoError(t, err)
	require.Len(t, watched, 1)
	require.Equal(t, inst, *watched[0].Id.InstanceId)
	_ = watcher
}

func TestCrawlAndWatchAnyInstanceWatchesServiceAndEachInstance(t *testing.T) {
	t.Parallel()

	d, fs, _, roots := newTestDiscovery(t)

	serviceId := identifier.ServiceId(1)
	inst1 := identifier.InstanceId(1)
	inst2 := identifier.InstanceId(2)

	dir1 := roots.InstanceDiscoveryDir(serviceId, inst1)
	dir2 := roots.InstanceDiscoveryDir(serviceId, inst2)
	require.NoError(t, fs.CreateDirectories(dir1, 0o755))
	require.NoError(t, fs.CreateDirectories(dir2, 0o755))
	require.NoError(t, fs.CreateRegularFile(dir1+"/1_asil-qm_1", 0o644))
	require.NoError(t, fs.CreateRegularFile(dir2+"/2_asil-qm_1", 0o644))

	_, watched, err := d.CrawlAndWatch(Id{ServiceId: serviceId})
	require.NoError(t, err)
	// One watch on the service directory, plus one per discovered instance.
	require.Len(t, watched, 3)
}

func TestCrawlAndWatchWithRetryRecrawlsOnFailure(t *testing.T) {
	t.Parallel()

	d, fs, watcher, roots := newTestDiscovery(t)

	serviceId := identifier.ServiceId(1)
	inst := identifier.InstanceId(1)
	dir := roots.InstanceDiscoveryDir(serviceId, inst)
	require.NoError(t, fs.CreateDirectories(dir, 0o755))

	watcher.FailNextAddWatch(errAddWatchTransient)

	_, watched, err := d.CrawlAndWatchWithRetry(Id{ServiceId: serviceId, InstanceId: &inst}, 3)
	require.NoError(t, err)
	require.Len(t, watched, 1)
}

func TestConvertFromStringToInstanceId(t *testing.T) {
	t.Parallel()

	valid := map[string]identifier.InstanceId{
		"0":     0,
		"00000": 0,
		"65535": 65535,
	}

	for in, want := range valid {
		got, err := ConvertFromStringToInstanceId(in)
		require.NoErrorf(t, err, "input %q", in)
		require.Equal(t, want, got)
	}

	invalid := []string{"", "a", "-1", "65536x"}
	for _, in := range invalid {
		_, err := ConvertFromStringToInstanceId(in)
		require.Errorf(t, err, "expected %q to be rejected", in)
	}
}

var errAddWatchTransient = requireErr("transient add_watch failure")

func requireErr(msg string) error {
	return &simpleErr{msg: msg}
}

type simpleErr struct{ msg string }

func (e *simpleErr) Error() string { return e.msg }
