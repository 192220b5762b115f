// Package buildinfo carries version data injected with -ldflags:
//
//	-X 'github.com/m3rciful/chainbot/core/buildinfo.Version=v1.2.3'
//	-X 'github.com/m3rciful/chainbot/core/buildinfo.Commit=abcdef0'
//	-X 'github.com/m3rciful/chainbot/core/buildinfo.Date=2025-08-30T12:00:00Z'
package buildinfo

var (
	// Version reports the semantic version or tag of the build.
	Version = "dev"
	// Commit reports the source control commit used for the build.
	Commit = "local"
	// Date reports the build timestamp in RFC3339 format.
	Date = ""
)

// Info is the JSON shape served by the health endpoint.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date,omitempty"`
}

// Current returns the build information of the running binary.
func Current() Info {
	return Info{Version: Version, Commit: Commit, Date: Date}
}
