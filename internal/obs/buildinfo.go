package obs

import (
	"runtime"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
)

// release is a constant 1 labelled with what is running, for joining in
// dashboards. Registered by Init.
var release = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "logbook_build_info",
		Help: "Version, commit and Go toolchain of the running logbook binary; always 1.",
	},
	[]string{"version", "commit", "go_version"},
)

// InitBuildInfo publishes the running release. An unset commit falls back to
// the VCS revision the toolchain stamped into the binary.
func InitBuildInfo(version, commit string) {
	if version == "" {
		version = "dev"
	}
	if commit == "" || commit == "none" {
		commit = vcsRevision()
	}
	release.Reset()
	release.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

func vcsRevision() string {
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return s.Value
			}
		}
	}
	return "unknown"
}
