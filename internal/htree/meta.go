package htree

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack"

	"github.com/tuannm99/novahtree/internal/storage"
)

const (
	checkpointVersion = 1

	flagRawRecords byte = 1 << iota
	flagDeleteMarkers
	flagVersionTimestamps
)

// checkpointRecord is written to the store after the pages of a checkpoint.
type checkpointRecord struct {
	Version     int    `msgpack:"version"`
	Root        uint64 `msgpack:"root"`
	AddressBits int    `msgpack:"address_bits"`
	Entries     int64  `msgpack:"entries"`
	Flags       byte   `msgpack:"flags"`
}

func (r checkpointRecord) apply(o *Options) {
	o.AddressBits = r.AddressBits
	o.RawRecords = r.Flags&flagRawRecords != 0
	o.DeleteMarkers = r.Flags&flagDeleteMarkers != 0
	o.VersionTimestamps = r.Flags&flagVersionTimestamps != 0
}

func (t *HTree) writeCheckpoint() (storage.Addr, error) {
	rec := checkpointRecord{
		Version:     checkpointVersion,
		Root:        uint64(t.root.addr),
		AddressBits: t.addressBits,
		Entries:     t.nentries,
	}
	if t.opts.RawRecords {
		rec.Flags |= flagRawRecords
	}
	if t.opts.DeleteMarkers {
		rec.Flags |= flagDeleteMarkers
	}
	if t.opts.VersionTimestamps {
		rec.Flags |= flagVersionTimestamps
	}

	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return storage.NullAddr, fmt.Errorf("encode checkpoint: %w", err)
	}
	return t.write(data)
}

func (t *HTree) readCheckpoint(addr storage.Addr) (checkpointRecord, error) {
	var rec checkpointRecord
	if addr.IsNull() {
		return rec, fmt.Errorf("%w: null checkpoint address", ErrCorruptPage)
	}
	data, err := t.read(addr)
	if err != nil {
		return rec, err
	}
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("%w: checkpoint %s: %w", ErrCorruptPage, addr, err)
	}
	if rec.Version != checkpointVersion {
		return rec, fmt.Errorf("%w: checkpoint version %d", ErrCorruptPage, rec.Version)
	}
	if storage.Addr(rec.Root).IsNull() {
		return rec, fmt.Errorf("%w: checkpoint %s has no root", ErrCorruptPage, addr)
	}
	return rec, nil
}

// Meta points at the latest checkpoint of an index kept in a record store.
// It lives next to the store files as <base>.htree.meta.json.
type Meta struct {
	Checkpoint  uint64 `json:"checkpoint"`
	AddressBits int    `json:"address_bits"`
	Entries     int64  `json:"entries"`
}

const metaFileSuffix = ".htree.meta.json"

func MetaPath(dir, base string) string {
	return filepath.Join(dir, base+metaFileSuffix)
}

// LoadMeta reads the meta file. ok is false when there is none yet.
func LoadMeta(dir, base string) (m Meta, ok bool, err error) {
	data, err := os.ReadFile(MetaPath(dir, base))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Meta{}, false, nil
		}
		return Meta{}, false, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, false, fmt.Errorf("parse %s: %w", MetaPath(dir, base), err)
	}
	return m, true, nil
}

// SaveMeta records t's last checkpoint in the meta file.
func SaveMeta(dir, base string, t *HTree) error {
	m := Meta{
		Checkpoint:  uint64(t.checkpoint),
		AddressBits: t.addressBits,
		Entries:     t.nentries,
	}
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, storage.FileMode0755); err != nil {
		return err
	}
	path := MetaPath(dir, base)
	if err := writeFileAtomic(path, data, storage.FileMode0644); err != nil {
		return err
	}
	slog.Debug("htree.meta.saved", "path", path, "checkpoint", t.checkpoint, "entries", m.Entries)
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	ok = true
	return nil
}
