package providers

import (
	"os"
	"runtime"
)

// SharedLibEnv overrides the onnxruntime shared library location.
const SharedLibEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// Returns:
//   - string: The path to the shared library, or an empty string when the platform
//     has no bundled library.
func GetSharedLibPath() string {
	if path := os.Getenv(SharedLibEnv); path != "" {
		return path
	}
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "./third_party/onnxruntime.dll"
		}
	case "darwin":
		return "./third_party/libonnxruntime.1.23.0.dylib"
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
	return ""
}
