package main

import (
	"fmt"
	"os"
	"time"

	"example.com/psrconv/internal/check"
	"example.com/psrconv/internal/common"
	"example.com/psrconv/internal/convert"
	"example.com/psrconv/internal/source"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	switch cmd {
	case "convert":
		convertCmd(os.Args[2:])
	case "inspect":
		inspectCmd(os.Args[2:])
	case "check":
		checkCmd(os.Args[2:])
	case "report":
		reportCmd(os.Args[2:])
	case "manifest":
		manifestCmd(os.Args[2:])
	case "batch":
		batchCmd(os.Args[2:])
	case "synth":
		synthCmd(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`psrconv %s (built %s) <command> [options]

Commands:
  convert   --in <file|s3://...> --out <file> [--in-format <fmt>] [--out-format <fmt>] [--nbits <n>] [--block <samples>] [--dada-block <bytes>]
  inspect   --in <file|s3://...> [--in-format <fmt>]
  check     --in <file|s3://...> [--in-format <fmt>] [--out <diagnostics.ndjson>]
  report    --in <file|s3://...> [--out <report.json>] [--pdf <report.pdf>] [--manifest <manifest.json>]
  manifest  --inputs <comma-separated> [--source <path>] --out <manifest.json> [--sign <key.pem>] [--verify <cert.pem>]
  batch     --in <dir> --out-dir <dir> --out-format <fmt> [--nbits <n>] [--jobs <n>]
  synth     --out-dir <dir>

Formats: filterbank (read/write), psrfits (read), dada (write).
Inputs may be local paths or s3:// urls; a .zst suffix enables zstandard.
`, version, buildDate)
}

// openInput resolves the location and wraps it in the right format reader.
func openInput(location, formatName string, s3 source.S3Config) (convert.Source, convert.Format, error) {
	format, err := convert.DetectFormat(formatName, location)
	if err != nil {
		return nil, "", err
	}
	rc, err := source.Open(location, s3)
	if err != nil {
		return nil, "", err
	}
	src, err := convert.OpenSource(rc, format)
	if err != nil {
		rc.Close()
		return nil, "", err
	}
	return src, format, nil
}

func runCheck(in, formatName string, s3 source.S3Config) (*check.Report, convert.Source, error) {
	src, _, err := openInput(in, formatName, s3)
	if err != nil {
		return nil, nil, err
	}
	rep, err := check.Run(src, in, check.Options{})
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	return rep, src, nil
}

func printMetrics(m *common.Metrics) {
	snap := m.Snapshot()
	throughputBps := snap.ThroughputBytesPerSecond()
	gbPerMin := throughputBps * 60 / 1_000_000_000
	mbPerSec := throughputBps / 1_000_000
	fmt.Printf("Metrics: duration=%s blocks=%d samples=%d in=%s out=%s throughput=%.2f GB/min (%.2f MB/s)\n",
		snap.Duration.Round(10*time.Millisecond),
		snap.Blocks,
		snap.Samples,
		common.FormatBytes(snap.BytesIn),
		common.FormatBytes(snap.BytesOut),
		gbPerMin,
		mbPerSec,
	)
}
