// Command fsfsutil is a thin, spec-facing entrypoint over pkg/fsfs:
// create a repository, dump a revision's tree, verify one's checksums,
// and diff or merge two paths across revisions. All real logic lives in
// pkg/fsfs and its internal collaborators; this file only parses flags
// and renders results.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/fsfs/store/internal/diffout"
	"github.com/fsfs/store/internal/fsdiff"
	"github.com/fsfs/store/internal/noderev"
	"github.com/fsfs/store/pkg/fsfs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("FSFSUTIL_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(os.Args[2:])
	case "dump":
		err = runDump(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	case "diff":
		err = runDiff(os.Args[2:])
	case "merge":
		err = runMerge(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Msg("fsfsutil: command failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: fsfsutil <command> [args]

commands:
  create <root>
  dump   <root> <rev> [path]
  verify <root> [rev]
  diff   <root> <revA> <pathA> <revB> <pathB>
  merge  <root> <ancestorRev> <ancestorPath> <mineRev> <minePath> <theirsRev> <theirsPath>`)
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("create: expected <root>")
	}
	_, err := fsfs.Create(fs.Arg(0), fsfs.DefaultConfig())
	if err != nil {
		return err
	}
	fmt.Println("created repository at", fs.Arg(0))
	return nil
}

func runDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 2 {
		return fmt.Errorf("dump: expected <root> <rev> [path]")
	}
	repo, err := fsfs.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	rev, err := strconv.ParseInt(fs.Arg(1), 10, 64)
	if err != nil {
		return fmt.Errorf("dump: bad revision %q: %w", fs.Arg(1), err)
	}
	p := "/"
	if fs.NArg() >= 3 {
		p = fs.Arg(2)
	}
	nr, err := repo.ReadPath(rev, p)
	if err != nil {
		return err
	}
	return dumpTree(repo, nr, p, 0)
}

func dumpTree(repo *fsfs.Repository, nr *noderev.NodeRev, p string, depth int) error {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	switch nr.Kind {
	case noderev.KindFile:
		fmt.Printf("%s%s (file, node %s)\n", indent, p, nr.ID.String())
	case noderev.KindDir:
		fmt.Printf("%s%s/ (dir, node %s)\n", indent, p, nr.ID.String())
		children, err := repo.ReadDir(nr, "")
		if err != nil {
			return err
		}
		names := make([]string, 0, len(children))
		for name := range children {
			names = append(names, name)
		}
		sortStrings(names)
		for _, name := range names {
			e := children[name]
			child, err := repo.ReadNode(e.ID)
			if err != nil {
				return err
			}
			if err := dumpTree(repo, child, p+name, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("verify: expected <root> [rev]")
	}
	repo, err := fsfs.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	if fs.NArg() >= 2 {
		rev, err := strconv.ParseInt(fs.Arg(1), 10, 64)
		if err != nil {
			return fmt.Errorf("verify: bad revision %q: %w", fs.Arg(1), err)
		}
		if err := repo.VerifyRevision(rev); err != nil {
			return err
		}
		fmt.Printf("revision %d OK\n", rev)
		return nil
	}
	if err := repo.VerifyAll(); err != nil {
		return err
	}
	fmt.Println("all revisions OK")
	return nil
}

func runDiff(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	ignoreWS := fs.Bool("ignore-whitespace", false, "collapse whitespace runs before comparing")
	ignoreEOL := fs.Bool("ignore-eol-style", false, "treat \\n, \\r\\n, \\r as equivalent")
	fs.Parse(args)
	if fs.NArg() != 5 {
		return fmt.Errorf("diff: expected <root> <revA> <pathA> <revB> <pathB>")
	}
	repo, err := fsfs.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	revA, err := strconv.ParseInt(fs.Arg(1), 10, 64)
	if err != nil {
		return fmt.Errorf("diff: bad revision %q: %w", fs.Arg(1), err)
	}
	revB, err := strconv.ParseInt(fs.Arg(3), 10, 64)
	if err != nil {
		return fmt.Errorf("diff: bad revision %q: %w", fs.Arg(3), err)
	}
	opts := fsdiff.Options{IgnoreWhitespace: *ignoreWS, IgnoreEOLStyle: *ignoreEOL}
	return repo.DiffPaths(os.Stdout, revA, fs.Arg(2), revB, fs.Arg(4), opts)
}

func runMerge(args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	modeFlag := fs.String("mode", "normal", "conflict style: normal, diff3, mine, theirs, unmodified, latest-banner")
	fs.Parse(args)
	if fs.NArg() != 7 {
		return fmt.Errorf("merge: expected <root> <ancestorRev> <ancestorPath> <mineRev> <minePath> <theirsRev> <theirsPath>")
	}
	repo, err := fsfs.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	ancestorRev, err := strconv.ParseInt(fs.Arg(1), 10, 64)
	if err != nil {
		return fmt.Errorf("merge: bad revision %q: %w", fs.Arg(1), err)
	}
	mineRev, err := strconv.ParseInt(fs.Arg(3), 10, 64)
	if err != nil {
		return fmt.Errorf("merge: bad revision %q: %w", fs.Arg(3), err)
	}
	theirsRev, err := strconv.ParseInt(fs.Arg(5), 10, 64)
	if err != nil {
		return fmt.Errorf("merge: bad revision %q: %w", fs.Arg(5), err)
	}
	mode, err := parseMergeMode(*modeFlag)
	if err != nil {
		return err
	}
	labels := diffout.MergeLabels{Mine: "mine", Ancestor: "ancestor", Theirs: "theirs"}
	conflicted, err := repo.MergePaths(os.Stdout,
		ancestorRev, fs.Arg(2),
		mineRev, fs.Arg(4),
		theirsRev, fs.Arg(6),
		fsdiff.Options{}, mode, labels)
	if err != nil {
		return err
	}
	if conflicted {
		fmt.Fprintln(os.Stderr, "merge produced conflicts")
		os.Exit(1)
	}
	return nil
}

func parseMergeMode(s string) (diffout.MergeMode, error) {
	switch s {
	case "normal":
		return diffout.ModeNormal, nil
	case "diff3":
		return diffout.ModeDiff3, nil
	case "mine":
		return diffout.ModeEitherFile, nil
	case "theirs":
		return diffout.ModeEitherFileLatest, nil
	case "unmodified":
		return diffout.ModeUnmodified, nil
	case "latest-banner":
		return diffout.ModeLatestOnConflict, nil
	default:
		return 0, fmt.Errorf("merge: unknown mode %q", s)
	}
}
