package pathcrypto

import (
	"bytes"
	"strings"
	"testing"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestNewRejectsWrongKeyLength(t *testing.T) {
	if _, err := New([]byte("too short")); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := New(make([]byte, KeySize+1)); err == nil {
		t.Fatal("expected error for long key")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(testKey())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	plain := "documents/2026/taxes.pdf"
	enc, err := c.EncryptPath(plain)
	if err != nil {
		t.Fatalf("EncryptPath failed: %v", err)
	}
	if enc == plain {
		t.Fatal("EncryptPath returned plaintext unchanged")
	}

	got, err := c.DecryptPath(enc)
	if err != nil {
		t.Fatalf("DecryptPath failed: %v", err)
	}
	if got != plain {
		t.Errorf("round trip mismatch: got %q, want %q", got, plain)
	}
}

func TestEncryptPathIsDeterministic(t *testing.T) {
	c, _ := New(testKey())
	plain := "same/path/every/time.txt"

	a, err := c.EncryptPath(plain)
	if err != nil {
		t.Fatalf("EncryptPath failed: %v", err)
	}
	b, err := c.EncryptPath(plain)
	if err != nil {
		t.Fatalf("EncryptPath failed: %v", err)
	}
	if a != b {
		t.Error("EncryptPath is not deterministic for identical plaintext")
	}
}

func TestEncryptPathDiffersAcrossPlaintexts(t *testing.T) {
	c, _ := New(testKey())
	a, _ := c.EncryptPath("one.txt")
	b, _ := c.EncryptPath("two.txt")
	if a == b {
		t.Error("different plaintexts produced identical ciphertext")
	}
}

func TestDecryptPathRejectsMalformedInput(t *testing.T) {
	c, _ := New(testKey())

	if _, err := c.DecryptPath("not valid base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}

	if _, err := c.DecryptPath("AAAA"); err == nil {
		t.Fatal("expected error for payload shorter than block size")
	}
}

func TestDecryptPathWrongKeyProducesGarbageNotError(t *testing.T) {
	c1, _ := New(testKey())
	key2 := make([]byte, KeySize)
	copy(key2, testKey())
	key2[0] ^= 0xff
	c2, _ := New(key2)

	enc, err := c1.EncryptPath("secret/path.txt")
	if err != nil {
		t.Fatalf("EncryptPath failed: %v", err)
	}

	got, err := c2.DecryptPath(enc)
	if err != nil {
		t.Fatalf("DecryptPath unexpectedly errored: %v", err)
	}
	if got == "secret/path.txt" {
		t.Error("decrypting with the wrong key recovered the original plaintext")
	}
}

func TestTokenizeSplitsAndLowercases(t *testing.T) {
	tokens := Tokenize("Documents/Taxes 2026.PDF")
	joined := strings.Join(tokens, ",")

	for _, want := range []string{"documents", "taxes", "2026", "pdf"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected token %q among %v", want, tokens)
		}
	}
	for _, tok := range tokens {
		if tok != strings.ToLower(tok) {
			t.Errorf("token %q is not lowercased", tok)
		}
	}
}

func TestTokenizeSplitsOnPunctuationForExtensionQueries(t *testing.T) {
	tokens := Tokenize("reports/2024/q1.pdf")
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		seen[tok] = true
	}
	if !seen["q1"] {
		t.Errorf("expected bare token %q among %v", "q1", tokens)
	}
	if !seen["pdf"] {
		t.Errorf("expected bare token %q among %v", "pdf", tokens)
	}

	query := Tokenize("q1")
	if len(query) != 1 || query[0] != "q1" {
		t.Fatalf("expected Tokenize(%q) == [%q], got %v", "q1", "q1", query)
	}
	if !seen[query[0]] {
		t.Errorf("query token %q does not overlap with indexed tokens %v", query[0], tokens)
	}
}

func TestTokenizeIncludesTrigrams(t *testing.T) {
	tokens := Tokenize("cat")
	found := false
	for _, tok := range tokens {
		if tok == "cat" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected whole short segment as a token, got %v", tokens)
	}

	long := make(map[string]bool)
	for _, tok := range Tokenize("catalog") {
		long[tok] = true
	}
	for _, want := range []string{"cat", "ata", "tal", "alo", "log"} {
		if !long[want] {
			t.Errorf("expected trigram %q in Tokenize(%q), got %v", want, "catalog", long)
		}
	}
}

func TestTokenizeDeduplicates(t *testing.T) {
	tokens := Tokenize("aaa/aaa")
	seen := make(map[string]int)
	for _, tok := range tokens {
		seen[tok]++
	}
	for tok, count := range seen {
		if count > 1 {
			t.Errorf("token %q appeared %d times, expected deduplication", tok, count)
		}
	}
}

func TestHashKeywordDeterministicAndKeyDependent(t *testing.T) {
	c1, _ := New(testKey())
	key2 := make([]byte, KeySize)
	copy(key2, testKey())
	key2[0] ^= 0xff
	c2, _ := New(key2)

	a := c1.HashKeyword("invoice")
	b := c1.HashKeyword("invoice")
	if a != b {
		t.Error("HashKeyword is not deterministic")
	}

	c := c2.HashKeyword("invoice")
	if a == c {
		t.Error("HashKeyword produced the same output under different keys")
	}
}

func TestHashKeywordsMatchesTokenize(t *testing.T) {
	c, _ := New(testKey())
	path := "invoices/march.pdf"
	hashes := c.HashKeywords(path)
	tokens := Tokenize(path)
	if len(hashes) != len(tokens) {
		t.Fatalf("expected %d hashes for %d tokens, got %d", len(tokens), len(tokens), len(hashes))
	}
	for i, tok := range tokens {
		if hashes[i] != c.HashKeyword(tok) {
			t.Errorf("hash at %d does not match HashKeyword(%q)", i, tok)
		}
	}
}

func TestEncryptPathNonceNotReusedAcrossInputs(t *testing.T) {
	c, _ := New(testKey())
	a, _ := c.EncryptPath("alpha")
	b, _ := c.EncryptPath("beta")
	if bytes.Equal([]byte(a)[:16], []byte(b)[:16]) {
		t.Error("expected distinct derived nonces for distinct plaintexts")
	}
}
