// Package version carries the build stamp of the commentary binaries, set via -ldflags.
package version

var (
	// Version is the release tag, "dev" for local builds
	Version = "dev"
	// Commit is the git commit hash
	Commit = "dev"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Info is the JSON shape served by the version endpoint
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// Get returns the build stamp for the named service
func Get(service string) Info {
	return Info{
		Service:   service,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
	}
}

// String renders the stamp for startup logs and the adm --version flag
func (i Info) String() string {
	return i.Service + " " + i.Version + " (" + i.Commit + ", built " + i.BuildTime + ")"
}
