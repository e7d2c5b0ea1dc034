package decoder

import (
	"os"
	"path/filepath"
	"runtime"
)

// ResolveFetcherPath finds the interpreter used to invoke the URL-fetcher
// module. basePath is the optional helper-process base directory (spec §6's
// "one optional base-path variable"). On Windows, when basePath is empty or
// none of the candidate paths under it exist, this falls back to resolving
// the interpreter from PATH by name alone — exactly the original engine's
// find_python_executable behavior. On other platforms basePath is not
// consulted and the result is always "python3".
func ResolveFetcherPath(basePath string) string {
	if runtime.GOOS == "windows" {
		if basePath != "" {
			for _, v := range []string{"Python313", "Python312"} {
				candidate := filepath.Join(basePath, v, "python.exe")
				if _, err := os.Stat(candidate); err == nil {
					return candidate
				}
			}
		}
		return "python"
	}
	return "python3"
}
