package page

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// cryptoOverhead is the per-page nonce + AEAD tag overhead CryptoStore adds
// on top of the plaintext logical page size.
const cryptoOverhead = chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// CryptoStore wraps a Store and transparently encrypts/decrypts pages, as
// spec §6's CryptoPageArray: "decrypts after read and encrypts into a fresh
// buffer before write (the plaintext buffer may be mutated concurrently, so
// encryption cannot be in-place)". The wrapped inner Store's page size must
// be exactly the logical page size plus cryptoOverhead.
type CryptoStore struct {
	inner Store
	aead  interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
		Overhead() int
	}
	pageSize int64
}

// NewCryptoStore wraps inner with a 32-byte XChaCha20-Poly1305 key. inner's
// page size must equal the desired logical page size plus cryptoOverhead.
func NewCryptoStore(inner Store, key []byte) (*CryptoStore, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("pagetree: crypto store key: %w", err)
	}
	logical := int64(inner.PageSize()) - cryptoOverhead
	if logical <= 0 {
		return nil, errors.New("pagetree: inner store page size too small for crypto overhead")
	}
	return &CryptoStore{inner: inner, aead: aead, pageSize: logical}, nil
}

func (s *CryptoStore) PageSize() uint32 { return uint32(s.pageSize) }

func (s *CryptoStore) PageCount() uint64 { return s.inner.PageCount() }

func (s *CryptoStore) ReadPage(id ID, buf []byte, offset int) error {
	sealed := make([]byte, s.pageSize+cryptoOverhead)
	if err := s.inner.ReadPage(id, sealed, 0); err != nil {
		return err
	}
	nonce := sealed[:s.aead.NonceSize()]
	ciphertext := sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, idAAD(id))
	if err != nil {
		return fmt.Errorf("pagetree: page %v failed to decrypt: %w", id, err)
	}
	copy(buf[offset:offset+int(s.pageSize)], plain)
	return nil
}

func (s *CryptoStore) WritePage(id ID, buf []byte, offset int) error {
	// The plaintext buffer may be concurrently mutated by the caller once
	// this call returns control of the page's latch, so we must encrypt
	// into a fresh buffer rather than in place.
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := make([]byte, 0, s.aead.NonceSize()+int(s.pageSize)+s.aead.Overhead())
	sealed = append(sealed, nonce...)
	sealed = s.aead.Seal(sealed, nonce, buf[offset:offset+int(s.pageSize)], idAAD(id))
	return s.inner.WritePage(id, sealed, 0)
}

func (s *CryptoStore) Allocate() (ID, error) { return s.inner.Allocate() }

func (s *CryptoStore) Free(id ID) error { return s.inner.Free(id) }

func (s *CryptoStore) Sync(metadataFlag bool) error { return s.inner.Sync(metadataFlag) }

func (s *CryptoStore) IsReadOnly() bool { return s.inner.IsReadOnly() }

func (s *CryptoStore) Close() error { return s.inner.Close() }

// idAAD binds a page's ciphertext to its id, so pages can't be silently
// swapped with one another by an attacker who only controls the disk image.
func idAAD(id ID) []byte {
	b := make([]byte, 8)
	v := uint64(id)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
