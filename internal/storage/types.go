package storage

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBPrincipal mirrors models.Principal for the single persisted session
// record. Kept separate from the wire struct so the stored schema does not
// drift with the API.
type DBPrincipal struct {
	ID          string `msgpack:"id"`
	DisplayName string `msgpack:"displayName"`
	Email       string `msgpack:"email"`
	AvatarURL   string `msgpack:"avatarUrl"`
	Active      bool   `msgpack:"active"`
	Credential  string `msgpack:"credential"`
	Bio         string `msgpack:"bio"`
}

func (p *DBPrincipal) Key() []byte {
	return keyPrincipal
}

func (p *DBPrincipal) MarshalBinary() (data []byte, err error) {
	type alias DBPrincipal
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPrincipal) UnmarshalBinary(data []byte) error {
	type alias DBPrincipal
	return msgpack.Unmarshal(data, (*alias)(p))
}

type DBUnread struct {
	PeerID string `msgpack:"peerId"`
	Count  int    `msgpack:"count"`
}

func (u *DBUnread) Key() []byte {
	return []byte(u.PeerID)
}

func (u *DBUnread) MarshalBinary() (data []byte, err error) {
	type alias DBUnread
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUnread) UnmarshalBinary(data []byte) error {
	type alias DBUnread
	return msgpack.Unmarshal(data, (*alias)(u))
}
