//go:build !linux

package observer

// resolveFDFromKernel has no /proc equivalent off Linux; callers get a
// cache miss and must have Set the entry explicitly at open time.
func resolveFDFromKernel(fd int) (string, bool) {
	return "", false
}
