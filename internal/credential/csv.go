package credential

import (
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mowzhja/harpocrates/internal/auth"
)

var header = []string{"user", "salt", "time", "memory", "threads", "storedKey", "serverKey"}

// A row with an empty user carries the decoy key in the salt column. No
// identity can be empty, so it never collides with a record.

// Load reads a credential file into a new store. A missing file yields an
// empty store.
func Load(path string) (*Store, error) {
	s := NewStore()
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := s.Import(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Import adds every record in r, CSV with a header row.
func (s *Store) Import(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)

	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line++
		if line == 1 && row[0] == header[0] {
			continue
		}
		if row[0] == "" {
			if err := s.setDecoyKey(row[1]); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			continue
		}

		rec, err := parseRow(row)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := s.Put(rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
}

func (s *Store) setDecoyKey(field string) error {
	key, err := hex.DecodeString(field)
	if err != nil {
		return fmt.Errorf("decoy key: %w", err)
	}
	if len(key) != DecoyKeySize {
		return fmt.Errorf("decoy key must be %d bytes", DecoyKeySize)
	}
	s.mu.Lock()
	copy(s.decoyKey[:], key)
	s.mu.Unlock()
	return nil
}

func parseRow(row []string) (Record, error) {
	salt, err := hex.DecodeString(row[1])
	if err != nil {
		return Record{}, fmt.Errorf("salt: %w", err)
	}
	t, err := strconv.ParseUint(row[2], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("time: %w", err)
	}
	m, err := strconv.ParseUint(row[3], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("memory: %w", err)
	}
	p, err := strconv.ParseUint(row[4], 10, 8)
	if err != nil {
		return Record{}, fmt.Errorf("threads: %w", err)
	}
	stored, err := hex.DecodeString(row[5])
	if err != nil {
		return Record{}, fmt.Errorf("storedKey: %w", err)
	}
	server, err := hex.DecodeString(row[6])
	if err != nil {
		return Record{}, fmt.Errorf("serverKey: %w", err)
	}

	return Record{
		Identity:  row[0],
		Params:    auth.Params{Salt: salt, Time: uint32(t), Memory: uint32(m), Threads: uint8(p)},
		StoredKey: stored,
		ServerKey: server,
	}, nil
}

// Export writes all records as CSV, sorted by identity.
func (s *Store) Export(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	s.mu.RLock()
	decoy := []string{"", hex.EncodeToString(s.decoyKey[:]), "", "", "", "", ""}
	s.mu.RUnlock()
	if err := cw.Write(decoy); err != nil {
		return err
	}
	for _, rec := range s.Records() {
		row := []string{
			rec.Identity,
			hex.EncodeToString(rec.Params.Salt),
			strconv.FormatUint(uint64(rec.Params.Time), 10),
			strconv.FormatUint(uint64(rec.Params.Memory), 10),
			strconv.FormatUint(uint64(rec.Params.Threads), 10),
			hex.EncodeToString(rec.StoredKey),
			hex.EncodeToString(rec.ServerKey),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes the store to path atomically, readable only by the owner.
func (s *Store) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".credentials-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := s.Export(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
