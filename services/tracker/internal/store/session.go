package store

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2s"

	"tracker-go/errcode"
	"tracker-go/nvs"
	"tracker-go/types"
)

const (
	keyNetID   = "netId"
	keyDevAddr = "devAddr"
	keyNwkKey  = "nwkKey"
	keyAppKey  = "artKey"
	keySum     = "sum"

	sumLen = 8
)

// SessionStore persists network-session credentials. The checksum key is
// written last, so a record torn by power loss reads back as absent.
type SessionStore struct {
	nv nvs.Store
}

func NewSessionStore(nv nvs.Store) *SessionStore { return &SessionStore{nv: nv} }

// Load returns ok=false when any field is missing, short, unreadable or
// fails the checksum. A partial record is never applied, and neither is
// one with an all-zero key.
func (s *SessionStore) Load() (types.Session, bool) {
	var sess types.Session

	netID, ok := s.get(keyNetID, 4)
	if !ok {
		return types.Session{}, false
	}
	devAddr, ok := s.get(keyDevAddr, 4)
	if !ok {
		return types.Session{}, false
	}
	nwk, ok := s.get(keyNwkKey, types.KeyLen)
	if !ok {
		return types.Session{}, false
	}
	app, ok := s.get(keyAppKey, types.KeyLen)
	if !ok {
		return types.Session{}, false
	}
	sum, ok := s.get(keySum, sumLen)
	if !ok {
		return types.Session{}, false
	}

	sess.NetID = binary.LittleEndian.Uint32(netID)
	sess.DevAddr = binary.LittleEndian.Uint32(devAddr)
	copy(sess.NwkSKey[:], nwk)
	copy(sess.AppSKey[:], app)

	want := checksum(sess)
	if string(sum) != string(want[:]) {
		println("[store] session checksum mismatch")
		return types.Session{}, false
	}
	if !sess.HasKeys() {
		println("[store] session has empty keys")
		return types.Session{}, false
	}
	return sess, true
}

func (s *SessionStore) get(key string, n int) ([]byte, bool) {
	b, err := s.nv.Get(nsLoRaWAN, key)
	if err != nil {
		if err != nvs.ErrNotFound {
			println("[store] session read failed:", key, err.Error())
		}
		return nil, false
	}
	if len(b) != n {
		return nil, false
	}
	return b, true
}

// Save writes every field, then the checksum.
func (s *SessionStore) Save(sess types.Session) error {
	var netID, devAddr [4]byte
	binary.LittleEndian.PutUint32(netID[:], sess.NetID)
	binary.LittleEndian.PutUint32(devAddr[:], sess.DevAddr)
	sum := checksum(sess)

	steps := []struct {
		key string
		val []byte
	}{
		{keySum, nil}, // invalidate first so a torn update cannot validate
		{keyNetID, netID[:]},
		{keyDevAddr, devAddr[:]},
		{keyNwkKey, sess.NwkSKey[:]},
		{keyAppKey, sess.AppSKey[:]},
		{keySum, sum[:]},
	}
	for _, st := range steps {
		if err := s.nv.Put(nsLoRaWAN, st.key, st.val); err != nil {
			return errcode.Wrap(errcode.StoreIO, "session.save", err)
		}
	}
	return nil
}

// Erase removes the whole namespace, frame counter included.
func (s *SessionStore) Erase() error {
	return errcode.Wrap(errcode.StoreIO, "session.erase", s.nv.EraseNamespace(nsLoRaWAN))
}

func checksum(sess types.Session) [sumLen]byte {
	var buf [4 + 4 + 2*types.KeyLen]byte
	binary.LittleEndian.PutUint32(buf[0:4], sess.NetID)
	binary.LittleEndian.PutUint32(buf[4:8], sess.DevAddr)
	copy(buf[8:], sess.NwkSKey[:])
	copy(buf[8+types.KeyLen:], sess.AppSKey[:])
	full := blake2s.Sum256(buf[:])
	var out [sumLen]byte
	copy(out[:], full[:sumLen])
	return out
}
