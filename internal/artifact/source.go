package artifact

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

const adoptBase = "https://github.com/AdoptOpenJDK/"

// runtimeSources maps runtime version and GOOS to a JRE archive. Windows
// gets the 32-bit build on every architecture for its smaller heap footprint.
var runtimeSources = map[int]map[string]string{
	11: {
		"linux":   "openjdk11-binaries/releases/download/jdk-11.0.3%2B7/OpenJDK11U-jre_x64_linux_hotspot_11.0.3_7.tar.gz",
		"darwin":  "openjdk11-binaries/releases/download/jdk-11.0.3%2B7/OpenJDK11U-jre_x64_mac_hotspot_11.0.3_7.tar.gz",
		"windows": "openjdk11-binaries/releases/download/jdk-11.0.3%2B7/OpenJDK11U-jre_x86-32_windows_hotspot_11.0.3_7.zip",
	},
	8: {
		"linux":   "openjdk8-binaries/releases/download/jdk8u212-b04/OpenJDK8U-jre_x64_linux_hotspot_8u212b04.tar.gz",
		"darwin":  "openjdk8-binaries/releases/download/jdk8u212-b04/OpenJDK8U-jre_x64_mac_hotspot_8u212b04.tar.gz",
		"windows": "openjdk8-binaries/releases/download/jdk8u212-b04/OpenJDK8U-jre_x86-32_windows_hotspot_8u212b04.zip",
	},
}

// Source is a downloadable runtime archive.
type Source struct {
	URL string
}

// FileName is the archive's base name, used as the local download name.
func (s Source) FileName() string {
	u, err := url.Parse(s.URL)
	if err != nil {
		return path.Base(s.URL)
	}
	return path.Base(u.Path)
}

// RuntimeSource returns the archive to download for version on goos.
func RuntimeSource(version int, goos string) (Source, error) {
	byOS, ok := runtimeSources[version]
	if !ok {
		return Source{}, fmt.Errorf("no runtime download for java %d", version)
	}
	p, ok := byOS[goos]
	if !ok {
		return Source{}, fmt.Errorf("no java %d runtime download for %s", version, goos)
	}
	return Source{URL: adoptBase + strings.TrimPrefix(p, "/")}, nil
}
