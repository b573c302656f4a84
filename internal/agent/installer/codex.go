package installer

import (
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// CodexVersion is the pinned codex-acp release the bridge manages.
	CodexVersion = "0.9.2"
	// CodexReleasesURL is where users can install codex-acp by hand.
	CodexReleasesURL = "https://github.com/zed-industries/codex-acp/releases"

	codexBinary        = "codex-acp"
	codexBinaryWindows = "codex-acp.exe"
	codexDownloadBase  = "https://github.com/zed-industries/codex-acp/releases/download/v" + CodexVersion + "/"
)

// ArchiveFormat is the container format of a release asset.
type ArchiveFormat string

const (
	ArchiveTarGz ArchiveFormat = "tar.gz"
	ArchiveZip   ArchiveFormat = "zip"
)

// Asset describes one platform build of a release.
type Asset struct {
	Target     string
	BinaryName string
	Archive    ArchiveFormat
	URL        string
	SHA256     string
}

func codexAsset(target string, archive ArchiveFormat, sha string) Asset {
	binary := codexBinary
	if archive == ArchiveZip {
		binary = codexBinaryWindows
	}
	return Asset{
		Target:     target,
		BinaryName: binary,
		Archive:    archive,
		URL:        codexDownloadBase + "codex-acp-" + CodexVersion + "-" + target + "." + string(archive),
		SHA256:     sha,
	}
}

// codexAssets is keyed by GOOS/GOARCH, plus /libc on linux.
var codexAssets = map[string]Asset{
	"darwin/arm64":      codexAsset("aarch64-apple-darwin", ArchiveTarGz, "edfb6128a2972325f4767af6ee58b512de59dd8e7bc1e4c90d27ada3e9f9b84b"),
	"darwin/amd64":      codexAsset("x86_64-apple-darwin", ArchiveTarGz, "393bf04bf1270065e2b73a1bbdcf46dab1154f48b50bd64f5c1daff03c1ed317"),
	"linux/arm64/gnu":   codexAsset("aarch64-unknown-linux-gnu", ArchiveTarGz, "52ef6fa1ccae7b9e102cff9ee20d7abe7498ee22d1219dc8e1858a75f60f757c"),
	"linux/arm64/musl":  codexAsset("aarch64-unknown-linux-musl", ArchiveTarGz, "45b3ec332643b5306e82edb70744e3e9329f1406a7200e0a0c79f8f8efe957dc"),
	"linux/amd64/gnu":   codexAsset("x86_64-unknown-linux-gnu", ArchiveTarGz, "59531026a0542a4ca9f18d73b445c20ab36d4882dda145c4ab27a4a46196d1ad"),
	"linux/amd64/musl":  codexAsset("x86_64-unknown-linux-musl", ArchiveTarGz, "7280d7e93f353d6481a402914639e50c1527f538d15dfd47c4138fc8c03f98f5"),
	"windows/arm64":     codexAsset("aarch64-pc-windows-msvc", ArchiveZip, "df00960eb5cc5f1543335702fbdf95f084d903d7702c4723d1375bb6056215dc"),
	"windows/amd64":     codexAsset("x86_64-pc-windows-msvc", ArchiveZip, "250648ced2645dce61a915b69515dc8e55d7836764faead7f27142ae064dadb4"),
}

// ResolveCodexAsset returns the release asset for a platform. libc is only
// consulted on linux ("gnu" or "musl").
func ResolveCodexAsset(goos, goarch, libc string) (Asset, bool) {
	key := goos + "/" + goarch
	if goos == "linux" {
		if libc == "" {
			libc = "gnu"
		}
		key += "/" + libc
	}
	asset, ok := codexAssets[key]
	return asset, ok
}

// CurrentCodexAsset resolves the asset for the running platform.
func CurrentCodexAsset() (Asset, bool) {
	return ResolveCodexAsset(runtime.GOOS, runtime.GOARCH, linuxLibc())
}

// linuxLibc guesses the C library by looking for the musl dynamic loader.
func linuxLibc() string {
	if runtime.GOOS != "linux" {
		return ""
	}
	if matches, _ := filepath.Glob("/lib/ld-musl-*"); len(matches) > 0 {
		return "musl"
	}
	return "gnu"
}

// CodexBinaryName is the executable name of codex-acp on goos.
func CodexBinaryName(goos string) string {
	if goos == "windows" {
		return codexBinaryWindows
	}
	return codexBinary
}

// IsManagedAgentPath reports whether a configured agent path names the
// managed codex-acp agent, which may be installed on demand.
func IsManagedAgentPath(path string) bool {
	p := strings.TrimSpace(path)
	return p == codexBinary || p == codexBinaryWindows
}

// CodexInstallPath is <installDir>/agents/codex-acp/<version>/<binary>.
func CodexInstallPath(installDir, goos string) string {
	return filepath.Join(installDir, "agents", "codex-acp", CodexVersion, CodexBinaryName(goos))
}
