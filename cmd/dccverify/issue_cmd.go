package main

import (
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"dccgate/pkg/issue"
)

func runKeygen(args []string) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var alg string
	var country string
	var usages string
	var keyOut string
	var dscOut string

	fs.StringVar(&alg, "alg", "ES256", "signature algorithm (ES256 or PS256)")
	fs.StringVar(&country, "country", "AT", "issuing country code")
	fs.StringVar(&usages, "usage", "", "comma separated key usages (vaccination,test,recovery)")
	fs.StringVar(&keyOut, "key-out", "", "private key output path (PEM)")
	fs.StringVar(&dscOut, "dsc-out", "", "signer certificate output path (base64 DER)")

	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if keyOut == "" || dscOut == "" {
		fmt.Fprintln(os.Stderr, "keygen requires --key-out and --dsc-out")
		return exitError
	}

	oids, err := parseUsages(usages)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse usage: %v\n", err)
		return exitError
	}
	signer, err := issue.GenerateKey(alg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		return exitError
	}
	der, err := issue.NewDSC(signer, issue.DSCOptions{Country: country, Usages: oids})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create signer certificate: %v\n", err)
		return exitError
	}
	keyPEM, err := issue.MarshalPrivateKeyPEM(signer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode key: %v\n", err)
		return exitError
	}
	if err := os.WriteFile(keyOut, keyPEM, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "write key: %v\n", err)
		return exitError
	}
	if err := os.WriteFile(dscOut, []byte(base64.StdEncoding.EncodeToString(der)+"\n"), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write signer certificate: %v\n", err)
		return exitError
	}
	return exitOK
}

func runIssue(args []string) int {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var keyPath string
	var dscPath string
	var kind string
	var uvci string
	var country string
	var validDays int
	var outPath string

	fs.StringVar(&keyPath, "key", "", "private key path (PEM)")
	fs.StringVar(&dscPath, "dsc", "", "signer certificate path")
	fs.StringVar(&kind, "type", "vaccination", "statement type (vaccination, test, recovery)")
	fs.StringVar(&uvci, "uvci", "", "unique certificate identifier")
	fs.StringVar(&country, "country", "AT", "issuing country code")
	fs.IntVar(&validDays, "valid-days", 365, "certificate validity in days")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if keyPath == "" || dscPath == "" || uvci == "" {
		fmt.Fprintln(os.Stderr, "issue requires --key, --dsc and --uvci")
		return exitError
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read key: %v\n", err)
		return exitError
	}
	signer, err := issue.ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse key: %v\n", err)
		return exitError
	}
	der, err := readDSC(dscPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read signer certificate: %v\n", err)
		return exitError
	}
	iss, err := issue.New(issue.KIDForCertificate(der), signer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init issuer: %v\n", err)
		return exitError
	}

	now := time.Now().UTC().Truncate(time.Second)
	var health any
	switch kind {
	case "vaccination":
		health = issue.Vaccination(uvci, country, now.AddDate(0, 0, -14))
	case "test":
		health = issue.Test(uvci, country, now.Add(-2*time.Hour), "260415000")
	case "recovery":
		health = issue.Recovery(uvci, country, now.AddDate(0, 0, -1), now.AddDate(0, 0, validDays))
	default:
		fmt.Fprintf(os.Stderr, "unsupported statement type %q\n", kind)
		return exitError
	}

	payload, err := iss.Issue(issue.Claims{
		Issuer:   country,
		IssuedAt: now,
		Expiry:   now.AddDate(0, 0, validDays),
		Health:   health,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue certificate: %v\n", err)
		return exitError
	}
	if err := writeOutput(outPath, []byte(payload)); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		return exitError
	}
	return exitOK
}

// readDSC accepts a PEM certificate or base64 DER.
func readDSC(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("unexpected pem block %q", block.Type)
		}
		return block.Bytes, nil
	}
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(der) == 0 {
		return nil, errors.New("empty signer certificate")
	}
	return der, nil
}

func parseUsages(value string) ([]asn1.ObjectIdentifier, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var out []asn1.ObjectIdentifier
	for _, part := range strings.Split(value, ",") {
		switch strings.TrimSpace(part) {
		case "vaccination":
			out = append(out, issue.OIDUsageVaccination)
		case "test":
			out = append(out, issue.OIDUsageTest)
		case "recovery":
			out = append(out, issue.OIDUsageRecovery)
		default:
			return nil, fmt.Errorf("unknown usage %q", part)
		}
	}
	return out, nil
}
