//go:build !(linux && cgo)

package media

// DefaultCapture, cihaz sürücüsü olmayan build'lerde sentetik track'ler üretir.
var DefaultCapture CaptureFunc = SyntheticCapture
