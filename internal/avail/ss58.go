package avail

import (
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// ss58Prefix is the network identifier byte embedded in the checksum.
// Avail uses the Substrate generic prefix.
const ss58Prefix = 42

// ss58Encode renders a 32-byte account id as SS58 text (the "simple
// account" format: single prefix byte, 2-byte checksum).
func ss58Encode(accountID []byte) string {
	body := make([]byte, 0, 1+len(accountID)+2)
	body = append(body, ss58Prefix)
	body = append(body, accountID...)

	checksum := ss58Checksum(body)
	body = append(body, checksum[:2]...)

	return base58.Encode(body)
}

func ss58Checksum(body []byte) []byte {
	h, _ := blake2b.New(64, nil)
	h.Write([]byte("SS58PRE"))
	h.Write(body)
	return h.Sum(nil)
}
