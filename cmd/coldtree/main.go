// Package main implements the coldtree CLI: a thin wrapper over the engine
// packages for creating, listing, diffing, searching, restoring, and
// garbage-collecting snapshots. Argument parsing is deliberately minimal
// (CLI ergonomics are out of this repo's scope); each subcommand wires
// straight into the corresponding Service call.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/coldtree/coldtree/internal/logging"
	"github.com/coldtree/coldtree/pkg/catalog"
	"github.com/coldtree/coldtree/pkg/chunkstore"
	"github.com/coldtree/coldtree/pkg/config"
	"github.com/coldtree/coldtree/pkg/hashing"
	"github.com/coldtree/coldtree/pkg/snapshot"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "--version", "-v":
		fmt.Println("coldtree " + version)
	case "help", "--help", "-h":
		printUsage()
	case "snapshot":
		if err := snapshotCommand(os.Args[2:]); err != nil {
			fail(err)
		}
	case "list":
		if err := listCommand(); err != nil {
			fail(err)
		}
	case "diff":
		if err := diffCommand(os.Args[2:]); err != nil {
			fail(err)
		}
	case "search":
		if err := searchCommand(os.Args[2:]); err != nil {
			fail(err)
		}
	case "restore":
		if err := restoreCommand(os.Args[2:]); err != nil {
			fail(err)
		}
	case "gc":
		if err := gcCommand(); err != nil {
			fail(err)
		}
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`coldtree - content-addressed, deduplicating snapshot backup engine

Usage:
  coldtree snapshot <root-dir> <name> [--parent <snapshot-id>]   create a snapshot
  coldtree list                                                  list snapshots
  coldtree diff <snapshot-a> <snapshot-b>                        show changed paths
  coldtree search <snapshot-id> <query>                          search file paths
  coldtree restore <snapshot-id> <dest-dir>                      restore a snapshot
  coldtree gc                                                    run the GC sweep
  coldtree version                                               print the version`)
}

func rootDir() string {
	if v := os.Getenv("COLDTREE_ROOT"); v != "" {
		return v
	}
	return ".coldtree"
}

func openEngine() (*catalog.Catalog, *snapshot.Service, error) {
	logging.Init(logging.Config{})

	root := rootDir()
	cfg := config.DefaultConfig(root)

	cat, err := catalog.Open(filepath.Join(root, "metadata.db"), cfg.MaxConnections)
	if err != nil {
		return nil, nil, err
	}

	store, err := chunkstore.New(filepath.Join(root, "chunks"), hashing.New(cfg.MaxStreamSize))
	if err != nil {
		cat.Close()
		return nil, nil, err
	}

	svc, err := snapshot.New(cat, store, hashing.New(cfg.MaxStreamSize), nil, cfg)
	if err != nil {
		cat.Close()
		return nil, nil, err
	}
	return cat, svc, nil
}

func snapshotCommand(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: coldtree snapshot <root-dir> <name> [--parent <id>]")
	}
	sourceDir, name := args[0], args[1]
	var parentID string
	for i := 2; i < len(args)-1; i++ {
		if args[i] == "--parent" {
			parentID = args[i+1]
		}
	}

	cat, svc, err := openEngine()
	if err != nil {
		return err
	}
	defer cat.Close()

	sources, err := walkSources(sourceDir)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var snap *catalog.Snapshot
	if parentID != "" {
		snap, err = svc.CreateIncrementalAuto(ctx, name, "", parentID, sources)
	} else {
		snap, err = svc.CreateFull(ctx, name, "", sources)
	}
	if err != nil {
		return err
	}

	fmt.Printf("snapshot %s created: %d files, %d bytes, root %s\n", snap.ID, snap.TotalFiles, snap.TotalSize, snap.MerkleRoot.Hex())
	return nil
}

func walkSources(root string) ([]snapshot.FileSource, error) {
	var sources []snapshot.FileSource
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		absPath := path
		sources = append(sources, snapshot.FileSource{
			Path:         filepath.ToSlash(rel),
			Size:         info.Size(),
			ModifiedTime: info.ModTime(),
			Open:         func() (io.ReadCloser, error) { return os.Open(absPath) },
		})
		return nil
	})
	return sources, err
}

func listCommand() error {
	cat, _, err := openEngine()
	if err != nil {
		return err
	}
	defer cat.Close()

	snaps, err := cat.ListSnapshots(nil)
	if err != nil {
		return err
	}
	for _, s := range snaps {
		fmt.Printf("%s  %-20s  %s  files=%d  size=%d\n", s.ID, s.Name, s.CreatedAt.Format(time.RFC3339), s.TotalFiles, s.TotalSize)
	}
	return nil
}

func diffCommand(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: coldtree diff <snapshot-a> <snapshot-b>")
	}
	cat, svc, err := openEngine()
	if err != nil {
		return err
	}
	defer cat.Close()

	entries, err := svc.Diff(args[0], args[1])
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  %s\n", e.Kind, e.Path)
	}
	return nil
}

func searchCommand(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: coldtree search <snapshot-id> <query>")
	}
	cat, svc, err := openEngine()
	if err != nil {
		return err
	}
	defer cat.Close()

	paths, err := svc.Search(args[0], args[1])
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}

func restoreCommand(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: coldtree restore <snapshot-id> <dest-dir>")
	}
	cat, svc, err := openEngine()
	if err != nil {
		return err
	}
	defer cat.Close()

	dest := args[1]
	ctx := context.Background()
	return svc.RestoreSnapshot(ctx, args[0], func(f *catalog.FileRecord, displayPath string, r io.Reader) error {
		outPath := filepath.Join(dest, displayPath)
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return err
		}
		out, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, r)
		return err
	})
}

func gcCommand() error {
	cat, svc, err := openEngine()
	if err != nil {
		return err
	}
	defer cat.Close()

	result, err := svc.SweepGC()
	if err != nil {
		return err
	}
	fmt.Printf("gc: chunks=%d merkle_nodes=%d invalid_snapshots=%d\n", result.ChunksDeleted, result.MerkleNodesDeleted, result.InvalidSnapshotsDropped)
	return nil
}
