package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"example.com/psrconv/internal/data"
	"example.com/psrconv/internal/manifest"
	"example.com/psrconv/internal/report"
	"example.com/psrconv/internal/source"
	"example.com/psrconv/internal/synth"
)

func checkCmd(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	in := fs.String("in", "", "input file or s3:// url")
	inFormat := fs.String("in-format", "", "input format (default: by extension)")
	out := fs.String("out", "", "diagnostics output (ndjson)")
	s3Endpoint := fs.String("s3-endpoint", "", "s3 endpoint override")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	rep, src, err := runCheck(*in, *inFormat, source.S3Config{Endpoint: *s3Endpoint})
	if err != nil {
		fmt.Println("check:", err)
		os.Exit(1)
	}
	src.Close()

	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fmt.Println("create diagnostics:", err)
			os.Exit(1)
		}
		werr := rep.WriteNDJSON(f)
		f.Close()
		if werr != nil {
			fmt.Println("write diagnostics:", err)
			os.Exit(1)
		}
	} else {
		if err := rep.WriteNDJSON(os.Stdout); err != nil {
			fmt.Println("write diagnostics:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("PASS=%v, errors=%d, warnings=%d, findings=%d\n",
		rep.Summary.Pass, rep.Summary.Errors, rep.Summary.Warnings, rep.Summary.Total)
	if !rep.Summary.Pass {
		os.Exit(1)
	}
}

func reportCmd(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	in := fs.String("in", "", "input file or s3:// url")
	inFormat := fs.String("in-format", "", "input format (default: by extension)")
	out := fs.String("out", "", "report JSON output")
	pdfPath := fs.String("pdf", "", "report PDF output")
	manifestPath := fs.String("manifest", "", "manifest to embed as digest")
	s3Endpoint := fs.String("s3-endpoint", "", "s3 endpoint override")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	rep, src, err := runCheck(*in, *inFormat, source.S3Config{Endpoint: *s3Endpoint})
	if err != nil {
		fmt.Println("check:", err)
		os.Exit(1)
	}
	hdr := src.Header()
	src.Close()

	digest := ""
	if *manifestPath != "" {
		m, err := manifest.Load(*manifestPath)
		if err != nil {
			fmt.Println("load manifest:", err)
			os.Exit(1)
		}
		if digest, err = manifest.Digest(m); err != nil {
			fmt.Println("manifest digest:", err)
			os.Exit(1)
		}
	}

	doc := report.Build(*in, nil, hdr, rep, digest)
	if *out != "" {
		if err := report.SaveJSON(doc, *out); err != nil {
			fmt.Println("write report:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote", *out)
	}
	if *pdfPath != "" {
		if err := report.SavePDF(doc, *pdfPath); err != nil {
			fmt.Println("write pdf:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote PDF:", *pdfPath)
	}
	if *out == "" && *pdfPath == "" {
		fmt.Printf("PASS=%v, errors=%d, warnings=%d\n",
			rep.Summary.Pass, rep.Summary.Errors, rep.Summary.Warnings)
	}
}

func manifestCmd(args []string) {
	fs := flag.NewFlagSet("manifest", flag.ExitOnError)
	inputs := fs.String("inputs", "", "comma-separated paths")
	srcName := fs.String("source", "", "conversion source recorded for provenance")
	out := fs.String("out", "manifest.json", "output json")
	signKey := fs.String("sign", "", "RSA private key PEM; writes a detached .jws next to the manifest")
	verifyKey := fs.String("verify", "", "certificate or public key PEM; verifies an existing manifest and exits")
	fs.Parse(args)

	if *verifyKey != "" {
		pem, err := os.ReadFile(*verifyKey)
		if err != nil {
			fmt.Println("read verify key:", err)
			os.Exit(1)
		}
		if err := manifest.VerifyFile(*out, pem); err != nil {
			fmt.Println("manifest verify:", err)
			os.Exit(1)
		}
		fmt.Println("Signature OK:", *out)
		return
	}

	if *inputs == "" {
		fmt.Println("required: --inputs")
		os.Exit(1)
	}
	var paths []string
	for _, p := range strings.Split(*inputs, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		fmt.Println("no input paths specified")
		os.Exit(1)
	}

	m, err := manifest.Build(*srcName, data.Header{}, paths)
	if err != nil {
		fmt.Println("manifest build:", err)
		os.Exit(1)
	}
	if err := manifest.Save(m, *out); err != nil {
		fmt.Println("manifest save:", err)
		os.Exit(1)
	}
	digest, err := manifest.Digest(m)
	if err != nil {
		fmt.Println("manifest digest:", err)
		os.Exit(1)
	}
	fmt.Println("Wrote", *out)
	fmt.Println("Digest:", digest)

	if *signKey != "" {
		pem, err := os.ReadFile(*signKey)
		if err != nil {
			fmt.Println("read signing key:", err)
			os.Exit(1)
		}
		sigPath, err := manifest.SignFile(*out, pem)
		if err != nil {
			fmt.Println("manifest sign:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote signature:", sigPath)
	}
}

func synthCmd(args []string) {
	fs := flag.NewFlagSet("synth", flag.ExitOnError)
	outDir := fs.String("out-dir", ".", "directory for generated sample files")
	fs.Parse(args)

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Println("create directory:", err)
		os.Exit(1)
	}
	if err := synth.WriteFiles(*outDir); err != nil {
		fmt.Println("generate samples:", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s and %s under %s\n", synth.FilterbankFileName, synth.PSRFITSFileName, *outDir)
}
