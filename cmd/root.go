package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"

	"github.com/agentic-research/trellis/internal/manifest"
	"github.com/agentic-research/trellis/internal/resolve"
)

var manifestPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "trellis.hcl", "Path to the scheme manifest")
}

var rootCmd = &cobra.Command{
	Use:   "trellis",
	Short: "Trellis: URI-addressable resolution over remote object graphs",
	Long: `Trellis exposes a hierarchical object space as a URI-addressable tree.
Schemes, their schemas and their backing stores are declared in an HCL
manifest; every subcommand resolves addresses against it.`,
	SilenceUsage: true,
}

// loadRegistry builds the scheme registry from the manifest.
func loadRegistry() (*resolve.Registry, error) {
	abs, err := filepath.Abs(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	reg := resolve.NewRegistry()
	if err := manifest.Load(osfs.New("/"), abs, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// printValue renders a resolved value as indented JSON, with unresolved
// specifiers shown as their URIs.
func printValue(v any) {
	fmt.Println(oj.JSON(flatten(v), 2))
}

// flatten replaces lazy specifiers with their URIs so output stays plain JSON.
func flatten(v any) any {
	switch x := v.(type) {
	case *resolve.Specifier:
		return x.URI()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = flatten(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = flatten(e)
		}
		return out
	}
	return v
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
