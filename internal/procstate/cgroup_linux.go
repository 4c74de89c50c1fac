//go:build linux

package procstate

import (
	"fmt"

	"github.com/containerd/cgroups/cgroup2"
	"golang.org/x/sys/unix"
)

// Cgroup2Resolver resolves against a unified (cgroup v2) hierarchy.
type Cgroup2Resolver struct{}

// Resolve returns the inode number of the pid's cgroup directory, which
// is a stable, kernel-assigned cgroup ID under cgroup v2, along with the
// cgroup's path relative to the unified mountpoint.
func (Cgroup2Resolver) Resolve(pid uint32) (uint64, string, error) {
	path, err := cgroup2.PidGroupPath(int(pid))
	if err != nil {
		return 0, "", fmt.Errorf("resolve cgroup path for pid %d: %w", pid, err)
	}

	var st unix.Stat_t
	full := cgroup2.UnifiedMountpoint + path
	if err := unix.Stat(full, &st); err != nil {
		return 0, path, fmt.Errorf("stat cgroup directory %s: %w", full, err)
	}
	return st.Ino, path, nil
}
