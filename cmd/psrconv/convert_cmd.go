package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"example.com/psrconv/internal/common"
	"example.com/psrconv/internal/convert"
	"example.com/psrconv/internal/data"
	"example.com/psrconv/internal/source"
)

func convertCmd(args []string) {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	in := fs.String("in", "", "input file or s3:// url")
	out := fs.String("out", "", "output file")
	inFormat := fs.String("in-format", "", "input format (default: by extension)")
	outFormat := fs.String("out-format", "", "output format (default: by extension)")
	nbits := fs.Int("nbits", 0, "output bit depth (default: keep input depth)")
	block := fs.Int("block", 0, "samples per block")
	dadaBlock := fs.Int("dada-block", 0, "dada data block size in bytes")
	metricsFlag := fs.Bool("metrics", false, "print conversion throughput metrics")
	progressFlag := fs.Bool("progress", false, "display conversion progress updates")
	s3Endpoint := fs.String("s3-endpoint", "", "s3 endpoint override")
	fs.Parse(args)

	if *in == "" || *out == "" {
		fmt.Println("required: --in, --out")
		os.Exit(1)
	}
	s3 := source.S3Config{Endpoint: *s3Endpoint}

	src, _, err := openInput(*in, *inFormat, s3)
	if err != nil {
		fmt.Println("open input:", err)
		os.Exit(1)
	}
	defer src.Close()

	format, err := convert.DetectFormat(*outFormat, *out)
	if err != nil {
		fmt.Println("output format:", err)
		os.Exit(1)
	}
	hdr, err := convert.OutputHeader(src.Header(), *nbits)
	if err != nil {
		fmt.Println("output header:", err)
		os.Exit(1)
	}
	sink, err := convert.OpenSink(*out, hdr, format, *dadaBlock)
	if err != nil {
		fmt.Println("open output:", err)
		os.Exit(1)
	}

	var metrics *common.Metrics
	if *metricsFlag || *progressFlag {
		metrics = common.NewMetrics()
		if sz := source.Size(*in); sz > 0 {
			metrics.SetTotalBytes(sz)
		}
	}
	var stopProgress func()
	if metrics != nil && *progressFlag {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}

	res, err := convert.Run(src, sink, convert.Options{BlockSamples: *block, Metrics: metrics})
	if stopProgress != nil {
		stopProgress()
	}
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Println("convert:", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %d samples in %d blocks (%s -> %s)\n",
		res.Samples, res.Blocks, common.FormatBytes(res.BytesIn), common.FormatBytes(res.BytesOut))
	if metrics != nil && *metricsFlag {
		printMetrics(metrics)
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	in := fs.String("in", "", "input file or s3:// url")
	inFormat := fs.String("in-format", "", "input format (default: by extension)")
	s3Endpoint := fs.String("s3-endpoint", "", "s3 endpoint override")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	src, format, err := openInput(*in, *inFormat, source.S3Config{Endpoint: *s3Endpoint})
	if err != nil {
		fmt.Println("open input:", err)
		os.Exit(1)
	}
	defer src.Close()

	fmt.Printf("Format: %s\n", format)
	printHeader(src.Header())
}

func printHeader(hdr data.Header) {
	for _, f := range hdr.CanonicalFields() {
		switch v := f.Value.(type) {
		case float64:
			fmt.Printf("%-18s %.6f\n", f.Name, v)
		default:
			fmt.Printf("%-18s %v\n", f.Name, v)
		}
	}
}
