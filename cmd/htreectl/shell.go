package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tuannm99/novahtree/internal/bufferpool"
	"github.com/tuannm99/novahtree/internal/hashkey"
	"github.com/tuannm99/novahtree/internal/htree"
	"github.com/tuannm99/novahtree/internal/storage"
)

var (
	errUsage         = errors.New("usage")
	errNoRecordStore = errors.New("index is not backed by a record store")
)

const helpText = `meta commands:
  \q | quit | exit       quit (checkpoints first)
  \history               print history
  \help                  show help

index commands:
  put <key> <value>      insert a tuple (duplicates are kept)
  get <key>              first value under key
  all <key>              every value under key
  has <key>              key present?
  del <key>              remove the first tuple under key
  scan [limit]           list live tuples
  count                  entry counter
  dump                   print the page tree
  check                  validate the page tree
  checkpoint             write dirty pages and a checkpoint record
  stats                  record store buffer pool counters
  page <id>              dump one record page`

// recordPages is the diagnostic side of a file-backed record store.
type recordPages interface {
	PoolStats() bufferpool.Stats
	PoolCapacity() int
	PageCount() uint32
	DebugPage(w io.Writer, pageID uint32) error
}

// shell runs index commands against one tree.
type shell struct {
	tree     *htree.HTree
	out      io.Writer
	hashKeys bool
	records  recordPages // nil for in-memory stores

	// onCheckpoint persists the checkpoint address, e.g. to the meta file.
	onCheckpoint func(storage.Addr) error
}

func (s *shell) key(k string) []byte {
	if s.hashKeys {
		return hashkey.OfString(k)
	}
	return []byte(k)
}

func formatValue(v []byte) string {
	if v == nil {
		return "(nil)"
	}
	return strconv.Quote(string(v))
}

// dropFields returns line without its first n fields; inner spacing of the
// remainder is kept.
func dropFields(line string, n int) string {
	rest := strings.TrimSpace(line)
	for range n {
		f := strings.Fields(rest)
		if len(f) == 0 {
			return ""
		}
		_, rest, _ = strings.Cut(rest, f[0])
		rest = strings.TrimSpace(rest)
	}
	return rest
}

func (s *shell) exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%w: %s needs %d argument(s), see \\help", errUsage, cmd, n)
		}
		return nil
	}

	switch cmd {
	case "put":
		if err := need(2); err != nil {
			return err
		}
		if err := s.tree.Insert(s.key(args[0]), []byte(dropFields(line, 2))); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "OK")

	case "get":
		if err := need(1); err != nil {
			return err
		}
		v, ok, err := s.tree.Lookup(s.key(args[0]))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(s.out, "(not found)")
			return nil
		}
		fmt.Fprintln(s.out, formatValue(v))

	case "all":
		if err := need(1); err != nil {
			return err
		}
		vals, err := s.tree.Values(s.key(args[0]))
		if err != nil {
			return err
		}
		for _, v := range vals {
			fmt.Fprintln(s.out, formatValue(v))
		}
		fmt.Fprintf(s.out, "(%d values)\n", len(vals))

	case "has":
		if err := need(1); err != nil {
			return err
		}
		ok, err := s.tree.Contains(s.key(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, ok)

	case "del":
		if err := need(1); err != nil {
			return err
		}
		ok, err := s.tree.Remove(s.key(args[0]))
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintln(s.out, "OK (1 removed)")
		} else {
			fmt.Fprintln(s.out, "OK (0 removed)")
		}

	case "scan":
		limit := -1
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("%w: scan limit %q", errUsage, args[0])
			}
			limit = n
		}
		rows := 0
		var verr error
		err := s.tree.Scan(func(t htree.Tuple) bool {
			if limit >= 0 && rows >= limit {
				return false
			}
			v, err := s.tree.Value(t)
			if err != nil {
				verr = err
				return false
			}
			fmt.Fprintf(s.out, "%s | %s\n", hex.EncodeToString(t.Key), formatValue(v))
			rows++
			return true
		})
		if err = errors.Join(err, verr); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "(%d rows)\n", rows)

	case "count":
		fmt.Fprintln(s.out, s.tree.EntryCount())

	case "dump":
		if !s.tree.Dump(s.out) {
			return errors.New("dump incomplete")
		}

	case "check":
		if !s.tree.Validate(s.out) {
			return errors.New("index is inconsistent")
		}
		fmt.Fprintln(s.out, "OK")

	case "checkpoint":
		addr, err := s.checkpoint()
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "checkpoint %s\n", addr)

	case "stats":
		if s.records == nil {
			return errNoRecordStore
		}
		st := s.records.PoolStats()
		fmt.Fprintf(s.out, "pages=%d frames=%d hits=%d misses=%d evictions=%d\n",
			s.records.PageCount(), s.records.PoolCapacity(), st.Hits, st.Misses, st.Evictions)

	case "page":
		if err := need(1); err != nil {
			return err
		}
		if s.records == nil {
			return errNoRecordStore
		}
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("%w: page id %q", errUsage, args[0])
		}
		return s.records.DebugPage(s.out, uint32(id))

	default:
		return fmt.Errorf("%w: unknown command %q, see \\help", errUsage, cmd)
	}
	return nil
}

// checkpoint publishes through onCheckpoint before the tree frees the
// records of the previous checkpoint.
func (s *shell) checkpoint() (storage.Addr, error) {
	return s.tree.CheckpointWith(s.onCheckpoint)
}
