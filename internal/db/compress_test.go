package db

import (
	"strings"
	"testing"
)

func TestCompressOutputs_SmallPassthrough(t *testing.T) {
	stdout, stderr, compressed := compressOutputs("hello\n", "warning\n")
	if compressed {
		t.Fatal("small outputs must not be compressed")
	}
	if string(stdout) != "hello\n" || string(stderr) != "warning\n" {
		t.Errorf("passthrough altered data: %q / %q", stdout, stderr)
	}
}

func TestCompressOutputs_LargeRoundTrip(t *testing.T) {
	big := strings.Repeat("80/tcp open http Apache httpd 2.4.62\n", 4096)

	stdout, stderr, compressed := compressOutputs(big, "")
	if !compressed {
		t.Fatal("large output must be compressed")
	}
	if len(stdout) >= len(big) {
		t.Errorf("compressed size %d not smaller than input %d", len(stdout), len(big))
	}

	gotOut, gotErr, err := decompressOutputs(stdout, stderr, compressed)
	if err != nil {
		t.Fatalf("decompressOutputs() error: %v", err)
	}
	if gotOut != big || gotErr != "" {
		t.Error("round trip altered data")
	}
}

func TestDecompressOutputs_Corrupt(t *testing.T) {
	if _, _, err := decompressOutputs([]byte("not zstd"), nil, true); err == nil {
		t.Error("expected error for corrupt compressed data")
	}
}
