package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	exitOK      = 0
	exitError   = 1
	exitInvalid = 2
)

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return exitError
	}

	switch args[1] {
	case "keygen":
		return runKeygen(args[2:])
	case "issue":
		return runIssue(args[2:])
	case "decode":
		return runDecode(args[2:])
	case "verify":
		return runVerify(args[2:])
	case "sync":
		return runSync(args[2:])
	case "bloom":
		if len(args) >= 3 {
			switch args[2] {
			case "build":
				return runBloomBuild(args[3:])
			case "check":
				return runBloomCheck(args[3:])
			}
		}
	}

	usage(args)
	return exitError
}

func usage(args []string) {
	name := "dccverify"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s keygen --key-out <file> --dsc-out <file> [--alg ES256|PS256] [--country <cc>] [--usage vaccination,test,recovery]\n", name)
	fmt.Fprintf(os.Stderr, "  %s issue --key <file> --dsc <file> --uvci <id> [--type vaccination|test|recovery] [--country <cc>] [--valid-days <n>] [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s decode (--in <file>|--payload <HC1:...>) [--lenient] [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s verify (--in <file>|--payload <HC1:...>) --dsc <file> [--rules <dir>] [--value-sets <file>] [--country <cc>] [--clock <rfc3339>] [--revocation-url <url>] [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s sync --revocation-url <url> [--dsn <postgres dsn>] [--concurrency <n>] [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s bloom build --elements <file> [--p <probability>] --out <file>\n", name)
	fmt.Fprintf(os.Stderr, "  %s bloom check --filter <file> --element <hex>\n", name)
}

func readPayload(inPath, payload string) (string, error) {
	if payload != "" {
		return payload, nil
	}
	if inPath == "" {
		return "", fmt.Errorf("--in or --payload is required")
	}
	data, err := os.ReadFile(inPath)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func writeOutput(outPath string, data []byte) error {
	if outPath == "" {
		_, err := os.Stdout.Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}
