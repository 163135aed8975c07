//go:build darwin

// Package sherpa provides platform-specific sherpa-onnx bindings.
// This file contains macOS-specific imports with CoreML support.
package sherpa

import impl "github.com/k2-fsa/sherpa-onnx-go-macos"

// Re-export the streaming (online) recognizer types and functions for
// cross-platform use. The actual implementation comes from the
// platform-specific package.

type OnlineRecognizer = impl.OnlineRecognizer
type OnlineRecognizerConfig = impl.OnlineRecognizerConfig
type OnlineRecognizerResult = impl.OnlineRecognizerResult
type OnlineStream = impl.OnlineStream
type OnlineModelConfig = impl.OnlineModelConfig
type OnlineTransducerModelConfig = impl.OnlineTransducerModelConfig
type FeatureConfig = impl.FeatureConfig

var NewOnlineRecognizer = impl.NewOnlineRecognizer
var DeleteOnlineRecognizer = impl.DeleteOnlineRecognizer
var NewOnlineStream = impl.NewOnlineStream
var DeleteOnlineStream = impl.DeleteOnlineStream

// DefaultProvider returns the recommended execution provider for this
// platform. On macOS, CoreML provides hardware acceleration via Apple's
// Neural Engine.
func DefaultProvider() string {
	return "coreml"
}

// AvailableProviders returns the list of available providers on this platform.
func AvailableProviders() []string {
	return []string{"cpu", "coreml"}
}

// HasNvidiaGPU returns false on macOS as NVIDIA GPUs are not supported.
func HasNvidiaGPU() bool {
	return false
}
