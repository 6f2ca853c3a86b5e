// Package main provides a command-line utility for identifying, applying,
// and creating ROM patch containers (IPS, UPS, BPS, APS-N64, APS-GBA, PPF,
// RUP, PMSR, VCDIFF).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/scigolib/romdiff"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "identify":
		runIdentify(os.Args[2:])
	case "apply":
		runApply(os.Args[2:])
	case "create":
		runCreate(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: romdiff <identify|apply|create> [flags]")
	fmt.Println()
	fmt.Println("  identify <patch-file>")
	fmt.Println("  apply    -source FILE -patch FILE -out FILE [-require-validation] [-remove-header] [-add-header]")
	fmt.Println("  create   -source FILE -modified FILE -format NAME -out FILE [-name LABEL]")
}

func runIdentify(args []string) {
	fs := flag.NewFlagSet("identify", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("identify requires a patch file argument")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		log.Fatalf("failed to read %s: %v", fs.Arg(0), err)
	}

	tag, ok := romdiff.Identify(data)
	if !ok {
		fmt.Println("unrecognized format")
		os.Exit(1)
	}
	fmt.Printf("%s: %s\n", fs.Arg(0), tag)
}

func runApply(args []string) {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	sourcePath := fs.String("source", "", "path to the source ROM")
	patchPath := fs.String("patch", "", "path to the patch file")
	outPath := fs.String("out", "", "path to write the patched ROM")
	requireValidation := fs.Bool("require-validation", false, "fail if the source does not satisfy the patch's declared precondition")
	removeHeader := fs.Bool("remove-header", false, "strip a known console header from source before applying")
	addHeader := fs.Bool("add-header", false, "prepend a synthetic console header before applying")
	fs.Parse(args)

	if *sourcePath == "" || *patchPath == "" || *outPath == "" {
		log.Fatal("apply requires -source, -patch, and -out")
	}

	source, err := os.ReadFile(*sourcePath)
	if err != nil {
		log.Fatalf("failed to read source: %v", err)
	}
	raw, err := os.ReadFile(*patchPath)
	if err != nil {
		log.Fatalf("failed to read patch: %v", err)
	}

	patch, err := romdiff.Parse(raw)
	if err != nil {
		log.Fatalf("failed to parse patch: %v", err)
	}

	opts := romdiff.ApplyOptions{
		RequireValidation: *requireValidation,
		RemoveHeader:      *removeHeader,
		AddHeader:         *addHeader,
	}
	out, err := romdiff.ApplyNamed(patch, source, *sourcePath, opts)
	if err != nil {
		log.Fatalf("apply failed: %v", err)
	}

	if err := os.WriteFile(*outPath, out, 0o644); err != nil {
		log.Fatalf("failed to write output: %v", err)
	}
	fmt.Printf("wrote %d bytes to %s\n", len(out), *outPath)
}

func runCreate(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	sourcePath := fs.String("source", "", "path to the original ROM")
	modifiedPath := fs.String("modified", "", "path to the modified ROM")
	format := fs.String("format", "", "target format: IPS, UPS, BPS, APS_N64, APS_GBA, PPF, RUP, PMSR")
	outPath := fs.String("out", "", "path to write the patch file")
	name := fs.String("name", "", "optional label embedded in formats that carry one (RUP)")
	fs.Parse(args)

	if *sourcePath == "" || *modifiedPath == "" || *format == "" || *outPath == "" {
		log.Fatal("create requires -source, -modified, -format, and -out")
	}

	tag, ok := formatTagByName(*format)
	if !ok {
		log.Fatalf("unrecognized format %q", *format)
	}

	source, err := os.ReadFile(*sourcePath)
	if err != nil {
		log.Fatalf("failed to read source: %v", err)
	}
	modified, err := os.ReadFile(*modifiedPath)
	if err != nil {
		log.Fatalf("failed to read modified ROM: %v", err)
	}

	patch, err := romdiff.Create(source, modified, tag, nil)
	if err != nil {
		log.Fatalf("create failed: %v", err)
	}

	raw, err := romdiff.Export(patch, *name)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}

	if err := os.WriteFile(*outPath, raw, 0o644); err != nil {
		log.Fatalf("failed to write patch: %v", err)
	}
	fmt.Printf("wrote %d bytes to %s\n", len(raw), *outPath)
}

func formatTagByName(name string) (romdiff.FormatTag, bool) {
	for _, tag := range romdiff.SupportedFormats() {
		if tag.String() == name {
			return tag, true
		}
	}
	return romdiff.Unknown, false
}
