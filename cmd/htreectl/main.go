package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tuannm99/novahtree/internal"
	"github.com/tuannm99/novahtree/internal/htree"
	"github.com/tuannm99/novahtree/internal/storage"
	"github.com/tuannm99/novahtree/internal/store"
)

const prompt = "htree> "

// index is an open tree over a record store plus the meta file that points
// at its latest checkpoint.
type index struct {
	cfg  *internal.HTreeConfig
	rs   *store.RecordStore
	tree *htree.HTree
}

func openIndex(cfg *internal.HTreeConfig) (*index, error) {
	dir, base := cfg.Storage.Dir, cfg.Storage.Base
	if err := os.MkdirAll(dir, storage.FileMode0755); err != nil {
		return nil, err
	}
	rs, err := store.Open(dir, base, cfg.StoreOptions())
	if err != nil {
		return nil, err
	}

	m, ok, err := htree.LoadMeta(dir, base)
	if err != nil {
		_ = rs.Close()
		return nil, err
	}

	var tree *htree.HTree
	if ok {
		tree, err = htree.Open(rs, storage.Addr(m.Checkpoint), cfg.HTreeOptions())
	} else {
		tree, err = htree.New(rs, cfg.HTreeOptions())
	}
	if err != nil {
		_ = rs.Close()
		return nil, err
	}

	slog.Info("htreectl.open",
		"dir", dir,
		"base", base,
		"existing", ok,
		"entries", tree.EntryCount(),
		"addressBits", tree.AddressBits(),
	)
	return &index{cfg: cfg, rs: rs, tree: tree}, nil
}

func (ix *index) saveMeta(storage.Addr) error {
	return htree.SaveMeta(ix.cfg.Storage.Dir, ix.cfg.Storage.Base, ix.tree)
}

func (ix *index) shell(out io.Writer) *shell {
	return &shell{
		tree:         ix.tree,
		out:          out,
		hashKeys:     ix.cfg.Index.HashKeys,
		records:      ix.rs,
		onCheckpoint: ix.saveMeta,
	}
}

// Close checkpoints the tree and closes the store.
func (ix *index) Close() error {
	_, err := ix.shell(io.Discard).checkpoint()
	return errors.Join(err, ix.rs.Close())
}

func isMetaCommand(line string) bool {
	return strings.HasPrefix(line, "\\") || line == "quit" || line == "exit"
}

func repl(ix *index, h *History) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	for _, line := range h.lines {
		_ = rl.SaveHistory(line)
	}

	sh := ix.shell(os.Stdout)
	fmt.Printf("index %s/%s (%d entries)\n", ix.cfg.Storage.Dir, ix.cfg.Storage.Base, ix.tree.EntryCount())
	fmt.Println("type \\help for help")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			fmt.Println("^C")
			continue
		}
		if err != nil {
			// EOF
			fmt.Println()
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if isMetaCommand(line) {
			switch line {
			case "\\q", "quit", "exit":
				return nil
			case "\\help":
				fmt.Println(helpText)
			case "\\history":
				h.Print(os.Stdout, 50)
			default:
				fmt.Printf("unknown command: %s\n", line)
			}
			continue
		}

		_ = h.Append(line)
		if err := sh.exec(line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func main() {
	var (
		cfgPath  = flag.String("config", "", "YAML config file")
		dataDir  = flag.String("data-dir", "", "data directory (overrides storage.dir)")
		histPath = flag.String("history", defaultHistoryPath(), "history file path")
		histMax  = flag.Int("history-max", 2000, "max history lines loaded into memory")
		oneShot  = flag.String("c", "", "execute one command and exit")
	)
	flag.Parse()

	cfg, err := internal.LoadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Storage.Dir = *dataDir
	}
	if err := internal.SetupLogger(cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ix, err := openIndex(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}

	code := 0
	if strings.TrimSpace(*oneShot) != "" {
		if err := ix.shell(os.Stdout).exec(*oneShot); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			code = 1
		}
	} else {
		h := NewHistory(*histPath)
		_ = h.Load(*histMax)
		if err := repl(ix, h); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			code = 1
		}
	}

	if err := ix.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close: %v\n", err)
		code = 1
	}
	os.Exit(code)
}
