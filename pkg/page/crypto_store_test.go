package page

import (
	"bytes"
	"testing"
)

const testCryptoLogicalPageSize = 256

func newTestCryptoStore(t *testing.T) (*CryptoStore, Store) {
	t.Helper()
	inner := NewMemStore(testCryptoLogicalPageSize + cryptoOverhead)
	key := bytes.Repeat([]byte{0x42}, 32)
	cs, err := NewCryptoStore(inner, key)
	if err != nil {
		t.Fatalf("NewCryptoStore: %v", err)
	}
	return cs, inner
}

func TestCryptoStoreRoundTripsPlaintext(t *testing.T) {
	cs, _ := newTestCryptoStore(t)
	if cs.PageSize() != testCryptoLogicalPageSize {
		t.Fatalf("PageSize() = %d, want %d", cs.PageSize(), testCryptoLogicalPageSize)
	}

	id, err := cs.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	want := bytes.Repeat([]byte{'p'}, testCryptoLogicalPageSize)
	if err := cs.WritePage(id, want, 0); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	got := make([]byte, testCryptoLogicalPageSize)
	if err := cs.ReadPage(id, got, 0); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("decrypted page does not match the plaintext written")
	}
}

func TestCryptoStoreStoresCiphertextNotPlaintext(t *testing.T) {
	cs, inner := newTestCryptoStore(t)
	id, err := cs.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	plain := bytes.Repeat([]byte{'s'}, testCryptoLogicalPageSize)
	if err := cs.WritePage(id, plain, 0); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	raw := make([]byte, testCryptoLogicalPageSize+cryptoOverhead)
	if err := inner.ReadPage(id, raw, 0); err != nil {
		t.Fatalf("inner ReadPage: %v", err)
	}
	if bytes.Contains(raw, plain) {
		t.Fatal("the inner store's raw bytes contain the plaintext page")
	}
}

func TestCryptoStoreRejectsPageSwappedBetweenIDs(t *testing.T) {
	cs, inner := newTestCryptoStore(t)
	idA, err := cs.Allocate()
	if err != nil {
		t.Fatalf("Allocate idA: %v", err)
	}
	idB, err := cs.Allocate()
	if err != nil {
		t.Fatalf("Allocate idB: %v", err)
	}
	if err := cs.WritePage(idA, bytes.Repeat([]byte{'a'}, testCryptoLogicalPageSize), 0); err != nil {
		t.Fatalf("WritePage idA: %v", err)
	}

	rawA := make([]byte, testCryptoLogicalPageSize+cryptoOverhead)
	if err := inner.ReadPage(idA, rawA, 0); err != nil {
		t.Fatalf("inner ReadPage idA: %v", err)
	}
	// Splice idA's sealed bytes onto idB's slot: same key material, wrong
	// page id bound into the AEAD's additional data, so decryption must
	// fail rather than silently returning idA's plaintext under idB's name.
	if err := inner.WritePage(idB, rawA, 0); err != nil {
		t.Fatalf("inner WritePage idB: %v", err)
	}

	buf := make([]byte, testCryptoLogicalPageSize)
	if err := cs.ReadPage(idB, buf, 0); err == nil {
		t.Fatal("ReadPage decrypted a page swapped from a different id; AAD binding is not effective")
	}
}

func TestCryptoStoreRejectsTamperedCiphertext(t *testing.T) {
	cs, inner := newTestCryptoStore(t)
	id, err := cs.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := cs.WritePage(id, bytes.Repeat([]byte{'t'}, testCryptoLogicalPageSize), 0); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	raw := make([]byte, testCryptoLogicalPageSize+cryptoOverhead)
	if err := inner.ReadPage(id, raw, 0); err != nil {
		t.Fatalf("inner ReadPage: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF // flip a tag byte
	if err := inner.WritePage(id, raw, 0); err != nil {
		t.Fatalf("inner WritePage: %v", err)
	}

	buf := make([]byte, testCryptoLogicalPageSize)
	if err := cs.ReadPage(id, buf, 0); err == nil {
		t.Fatal("ReadPage accepted a page with a tampered AEAD tag")
	}
}
