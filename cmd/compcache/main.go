// Command compcache stages precompiled wasm binaries through the
// compilation cache into a wazero-backed scope, and inspects the staging
// manifest a cache left behind.
//
//	compcache run [--source-dir DIR --artifact-dir DIR] FILE.wasm...
//	compcache list --artifact-dir DIR
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/compcache/compcache"
	"github.com/compcache/compcache/internal/api"
	"github.com/compcache/compcache/internal/wasmdef"
	"github.com/compcache/compcache/types"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "compcache:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("compcache", flag.ContinueOnError)
	sourceDir := flags.String("source-dir", "", "directory to stage source units under")
	artifactDir := flags.String("artifact-dir", "", "directory to stage artifact bytes under")
	configPath := flags.String("config", "", "YAML cache configuration file")
	if err := flags.Parse(args); err != nil {
		return err
	}
	rest := flags.Args()
	if len(rest) == 0 {
		return fmt.Errorf("usage: compcache [flags] run FILE.wasm... | list")
	}

	switch rest[0] {
	case "run":
		return runWasm(rest[1:], *configPath, *sourceDir, *artifactDir)
	case "list":
		return listManifest(*artifactDir)
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func runWasm(files []string, configPath, sourceDir, artifactDir string) error {
	if len(files) == 0 {
		return fmt.Errorf("run: no wasm files given")
	}

	cfg := types.CacheConfig{SourceDir: sourceDir, ArtifactDir: artifactDir}
	if configPath != "" {
		loaded, err := types.LoadCacheConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	cc, err := compcache.NewWithConfig(cfg)
	if err != nil {
		return err
	}
	defer cc.Close()

	ctx := context.Background()
	wasmScope := wasmdef.NewWasmScope(ctx)
	defer wasmScope.Close(ctx)
	scope := types.NewScope("cli", wasmScope)

	for _, file := range files {
		code, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		if _, err := cc.Resolve(ctx, scope, name, string(code)); err != nil {
			return err
		}
		fmt.Printf("loaded %s (%d bytes)\n", name, len(code))
	}

	fmt.Printf("scope holds %d module(s): %s\n",
		wasmScope.Len(), strings.Join(cc.LoadedNames(scope), ", "))
	return nil
}

func listManifest(artifactDir string) error {
	if artifactDir == "" {
		return fmt.Errorf("list: --artifact-dir is required")
	}
	entries, err := api.LoadManifest(artifactDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%d\t%s\n", e.Name, e.Size, e.Digest)
	}
	return nil
}
