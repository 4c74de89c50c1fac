package procstate

// CgroupResolver resolves a pid to its cgroup ID, so records carry a
// stable numeric identity even if the cgroup path is later renamed. It
// is pluggable so environments without cgroup v2 (or running in a
// container without /sys/fs/cgroup visibility) can disable resolution
// entirely rather than fail every lookup.
type CgroupResolver interface {
	Resolve(pid uint32) (cgroupID uint64, path string, err error)
}

// NoopCgroupResolver never resolves anything; New uses it when given a
// nil resolver.
type NoopCgroupResolver struct{}

func (NoopCgroupResolver) Resolve(uint32) (uint64, string, error) {
	return 0, "", nil
}
