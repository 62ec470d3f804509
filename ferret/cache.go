//
// cache.go
//

package ferret

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/ucbsky/elsa/ot"
)

var (
	keyDelta = []byte("delta")
	keyBase  = []byte("base")
	keyBits  = []byte("bits")
)

// Store persists base correlations between sessions. Each session
// port and role gets its own database directory so that two roles of
// the same process never contend for the same database lock.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir for the argument session
// port and role.
func NewStore(dir string, port int, role string) *Store {
	return &Store{
		dir: filepath.Join(dir, strconv.Itoa(port), role),
	}
}

func (s *Store) open(create bool) (*leveldb.DB, error) {
	if !create {
		if _, err := os.Stat(s.dir); err != nil {
			return nil, nil
		}
	}
	db, err := leveldb.OpenFile(s.dir, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open cache %s", s.dir)
	}
	return db, nil
}

// LoadSender loads the sender's base correlation. The boolean result
// is false if the store has no complete correlation.
func (s *Store) LoadSender() (ot.Label, []ot.Label, bool, error) {
	var delta ot.Label

	db, err := s.open(false)
	if err != nil || db == nil {
		return delta, nil, false, err
	}
	defer db.Close()

	d, err := db.Get(keyDelta, nil)
	if err == leveldb.ErrNotFound {
		return delta, nil, false, nil
	} else if err != nil {
		return delta, nil, false, errors.Wrap(err, "cache get delta")
	}
	if len(d) != 16 {
		return delta, nil, false, errors.Errorf(
			"cache: corrupt delta: %d bytes", len(d))
	}
	delta.SetBytes(d)

	base, ok, err := getLabels(db, keyBase)
	if !ok || err != nil {
		return delta, nil, false, err
	}
	return delta, base, true, nil
}

// SaveSender stores the sender's base correlation.
func (s *Store) SaveSender(delta ot.Label, base []ot.Label) error {
	db, err := s.open(true)
	if err != nil {
		return err
	}
	defer db.Close()

	var d ot.LabelData
	if err := db.Put(keyDelta, delta.Bytes(&d), nil); err != nil {
		return errors.Wrap(err, "cache put delta")
	}
	if err := db.Put(keyBase, labelBytes(base), nil); err != nil {
		return errors.Wrap(err, "cache put base")
	}
	return nil
}

// LoadReceiver loads the receiver's base correlation. The boolean
// result is false if the store has no complete correlation.
func (s *Store) LoadReceiver() ([]bool, []ot.Label, bool, error) {
	db, err := s.open(false)
	if err != nil || db == nil {
		return nil, nil, false, err
	}
	defer db.Close()

	packed, err := db.Get(keyBits, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil, false, nil
	} else if err != nil {
		return nil, nil, false, errors.Wrap(err, "cache get bits")
	}

	base, ok, err := getLabels(db, keyBase)
	if !ok || err != nil {
		return nil, nil, false, err
	}
	if len(packed) != (len(base)+7)/8 {
		return nil, nil, false, errors.Errorf(
			"cache: corrupt bits: %d bytes for %d labels",
			len(packed), len(base))
	}
	bits := make([]bool, len(base))
	for i := range bits {
		bits[i] = (packed[i/8]>>(uint(i)%8))&1 == 1
	}
	return bits, base, true, nil
}

// SaveReceiver stores the receiver's base correlation.
func (s *Store) SaveReceiver(bits []bool, base []ot.Label) error {
	db, err := s.open(true)
	if err != nil {
		return err
	}
	defer db.Close()

	packed := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			packed[i/8] |= 1 << (uint(i) % 8)
		}
	}
	if err := db.Put(keyBits, packed, nil); err != nil {
		return errors.Wrap(err, "cache put bits")
	}
	if err := db.Put(keyBase, labelBytes(base), nil); err != nil {
		return errors.Wrap(err, "cache put base")
	}
	return nil
}

func getLabels(db *leveldb.DB, key []byte) ([]ot.Label, bool, error) {
	buf, err := db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	} else if err != nil {
		return nil, false, errors.Wrapf(err, "cache get %s", key)
	}
	if len(buf)%16 != 0 {
		return nil, false, errors.Errorf(
			"cache: corrupt %s: %d bytes", key, len(buf))
	}
	labels := make([]ot.Label, len(buf)/16)
	for i := range labels {
		labels[i].SetBytes(buf[i*16:])
	}
	return labels, true, nil
}

func labelBytes(labels []ot.Label) []byte {
	buf := make([]byte, len(labels)*16)
	var d ot.LabelData
	for i, l := range labels {
		copy(buf[i*16:], l.Bytes(&d))
	}
	return buf
}
