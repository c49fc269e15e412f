package db

import (
	"github.com/klauspost/compress/zstd"
)

// Outputs of pentest tools (nmap -A, gobuster, dirb) routinely run to
// megabytes; anything above this threshold is stored zstd-compressed.
const compressThreshold = 64 * 1024

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// compressOutputs compresses stdout and stderr when their combined size
// crosses the threshold. Both streams share one compressed flag so reads
// never have to guess per-column.
func compressOutputs(stdout, stderr string) ([]byte, []byte, bool) {
	if len(stdout)+len(stderr) < compressThreshold {
		return []byte(stdout), []byte(stderr), false
	}
	return zstdEncoder.EncodeAll([]byte(stdout), nil),
		zstdEncoder.EncodeAll([]byte(stderr), nil),
		true
}

func decompressOutputs(stdout, stderr []byte, compressed bool) (string, string, error) {
	if !compressed {
		return string(stdout), string(stderr), nil
	}
	out, err := zstdDecoder.DecodeAll(stdout, nil)
	if err != nil {
		return "", "", err
	}
	errOut, err := zstdDecoder.DecodeAll(stderr, nil)
	if err != nil {
		return "", "", err
	}
	return string(out), string(errOut), nil
}
