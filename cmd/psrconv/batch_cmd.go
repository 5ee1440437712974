package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"example.com/psrconv/internal/convert"
	"example.com/psrconv/internal/data"
	"example.com/psrconv/internal/manifest"
	"example.com/psrconv/internal/source"
)

func batchCmd(args []string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	inDir := fs.String("in", ".", "input directory")
	outDir := fs.String("out-dir", "out", "results directory")
	outFormat := fs.String("out-format", "filterbank", "output format")
	nbits := fs.Int("nbits", 0, "output bit depth (default: keep input depth)")
	block := fs.Int("block", 0, "samples per block")
	jobs := fs.Int("jobs", runtime.NumCPU(), "maximum concurrent conversions")
	fs.Parse(args)

	format, err := convert.DetectFormat(*outFormat, "")
	if err != nil {
		fmt.Println("output format:", err)
		os.Exit(1)
	}
	inputs, err := collectInputs(*inDir)
	if err != nil {
		fmt.Println("scan inputs:", err)
		os.Exit(1)
	}
	if len(inputs) == 0 {
		fmt.Println("no convertible files under", *inDir)
		os.Exit(1)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Println("create out-dir:", err)
		os.Exit(1)
	}

	if err := runBatch(inputs, *outDir, format, *nbits, *block, *jobs); err != nil {
		fmt.Println("batch:", err)
		os.Exit(1)
	}
	fmt.Printf("Converted %d file(s) into %s\n", len(inputs), *outDir)
}

// collectInputs walks dir for files in a readable container format.
func collectInputs(dir string) ([]string, error) {
	var inputs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if _, ferr := convert.DetectFormat("", path); ferr != nil {
			return nil
		}
		inputs = append(inputs, path)
		return nil
	})
	return inputs, err
}

func runBatch(inputs []string, outDir string, format convert.Format, nbits, block, jobs int) error {
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(jobs)
	for _, in := range inputs {
		in := in
		g.Go(func() error {
			out := batchOutputPath(outDir, in, format)
			hdr, err := convertOne(in, out, format, nbits, block)
			if err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}
			m, err := manifest.Build(in, hdr, []string{out})
			if err != nil {
				return fmt.Errorf("%s: manifest: %w", in, err)
			}
			return manifest.Save(m, out+".manifest.json")
		})
	}
	return g.Wait()
}

func batchOutputPath(outDir, in string, format convert.Format) string {
	base := filepath.Base(strings.TrimSuffix(in, ".zst"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	switch format {
	case convert.DADA:
		return filepath.Join(outDir, base+".dada")
	default:
		return filepath.Join(outDir, base+".fil")
	}
}

func convertOne(in, out string, format convert.Format, nbits, block int) (data.Header, error) {
	src, _, err := openInput(in, "", source.S3Config{})
	if err != nil {
		return data.Header{}, err
	}
	defer src.Close()
	hdr, err := convert.OutputHeader(src.Header(), nbits)
	if err != nil {
		return data.Header{}, err
	}
	sink, err := convert.OpenSink(out, hdr, format, 0)
	if err != nil {
		return data.Header{}, err
	}
	_, err = convert.Run(src, sink, convert.Options{BlockSamples: block})
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	return hdr, err
}
