// Command onesdk is a thin shell front-end over the onesdk package: perform
// a usecase with a JSON input, print the provider handle (name plus
// security/parameter overlays) a profile would use, or resolve a profile and
// print its id, without writing any Go.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/onesdk/onesdk-go"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing: it never calls os.Exit itself.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "perform":
		return runPerformCmd(args[2:], stdout, stderr)
	case "bind":
		return runBindCmd(args[2:], stdout, stderr)
	case "inspect":
		return runInspectCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: onesdk <command> [flags]

Commands:
  perform   Validate input, bind, and perform a usecase
  bind      Print the provider handle for a profile; no bind is made
  inspect   Resolve a profile and print its canonical id
  help      Show this message`)
}

func runPerformCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("perform", flag.ContinueOnError)
	fs.SetOutput(stderr)
	profileID := fs.String("profile", "", "profile id, e.g. communication/send-email")
	usecase := fs.String("usecase", "", "usecase name declared on the profile")
	provider := fs.String("provider", "", "pin a specific provider, skipping router selection")
	inputPath := fs.String("input", "-", "path to a JSON input document, or - for stdin")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *profileID == "" || *usecase == "" {
		_, _ = fmt.Fprintln(stderr, "perform requires -profile and -usecase")
		return 2
	}

	raw, err := readInput(*inputPath, os.Stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "reading input: %s\n", err)
		return 1
	}
	var input any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &input); err != nil {
			_, _ = fmt.Fprintf(stderr, "parsing input as JSON: %s\n", err)
			return 1
		}
	}

	ctx := context.Background()
	client, err := onesdk.New(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "constructing client: %s\n", err)
		return 1
	}
	defer func() { _ = client.Close(ctx) }()

	profile, err := client.GetProfile(ctx, *profileID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "resolving profile: %s\n", err)
		return 1
	}
	uc, err := profile.GetUseCase(*usecase)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "resolving usecase: %s\n", err)
		return 1
	}

	result, err := uc.Perform(ctx, input, onesdk.PerformOptions{Provider: *provider})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "perform failed: %s\n", err)
		return 1
	}

	return printJSON(stdout, stderr, result)
}

func runBindCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bind", flag.ContinueOnError)
	fs.SetOutput(stderr)
	profileID := fs.String("profile", "", "profile id to resolve a provider for")
	provider := fs.String("provider", "", "provider name; defaults to the super-document's first priority entry")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *profileID == "" {
		_, _ = fmt.Fprintln(stderr, "bind requires -profile")
		return 2
	}

	ctx := context.Background()
	client, err := onesdk.New(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "constructing client: %s\n", err)
		return 1
	}
	defer func() { _ = client.Close(ctx) }()

	var p *onesdk.Provider
	if *provider != "" {
		p = client.GetProvider(*provider, nil, nil)
	} else {
		p, err = client.GetProviderForProfile(*profileID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "resolving provider: %s\n", err)
			return 1
		}
	}

	return printJSON(stdout, stderr, p)
}

func runInspectCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	profileID := fs.String("profile", "", "profile id to resolve and print")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *profileID == "" {
		_, _ = fmt.Fprintln(stderr, "inspect requires -profile")
		return 2
	}

	ctx := context.Background()
	client, err := onesdk.New(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "constructing client: %s\n", err)
		return 1
	}
	defer func() { _ = client.Close(ctx) }()

	profile, err := client.GetProfile(ctx, *profileID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "resolving profile: %s\n", err)
		return 1
	}

	return printJSON(stdout, stderr, struct {
		ID string `json:"id"`
	}{ID: profile.ID().String()})
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func printJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintf(stderr, "encoding output: %s\n", err)
		return 1
	}
	return 0
}
