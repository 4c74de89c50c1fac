//go:build linux

package producer

import (
	"fmt"
	"os"
)

// checkCapabilities is a coarse preflight: loading and attaching BPF
// programs needs CAP_BPF and CAP_PERFMON (or CAP_SYS_ADMIN on pre-5.8
// kernels), which in practice means running as root in every deployment
// this agent targets. SKIP_CAP_CHECK exists for environments (rootless
// containers with the capabilities granted some other way) where this
// euid check would be a false negative.
func checkCapabilities() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("producer requires root (CAP_BPF/CAP_SYS_ADMIN); set SKIP_CAP_CHECK=1 to bypass this check")
	}
	return nil
}
