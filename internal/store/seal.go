package store

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

var ErrSealBroken = errors.New("sealed tokens cannot be opened")

const nonceSize = 24

// sealer encrypts upstream tokens before they touch disk.
type sealer struct {
	key [32]byte
}

func newSealer(secret string) (*sealer, error) {
	s := &sealer{}
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("cardauction session tokens"))
	if _, err := io.ReadFull(kdf, s.key[:]); err != nil {
		return nil, err
	}
	return s, nil
}

// seal returns nonce || box.
func (s *sealer) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

func (s *sealer) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrSealBroken
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrSealBroken
	}
	return plain, nil
}
