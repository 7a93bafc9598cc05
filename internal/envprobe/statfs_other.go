//go:build !unix

package envprobe

import "errors"

const diskStatsSupported = false

func freeBytes(string) (int64, error) {
	return 0, errors.New("free space is not available on this platform")
}
