// Package pathcrypto implements deterministic path encryption and the
// tokenized blind-index keyword search from spec.md §4.7, grounded on the
// teacher's honeytag resolver normalization (NFKC + case-fold via
// golang.org/x/text) and its cborcanon-adjacent use of HMAC for
// deterministic, content-derived values.
package pathcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/coldtree/coldtree/pkg/coldtreeerr"
)

// KeySize is the required length of a path encryption key (spec.md §4.7).
const KeySize = 32

// Cipher performs deterministic path encryption/decryption and keyword
// tokenization for the blind index, both keyed by a single 32-byte secret.
type Cipher struct {
	key [KeySize]byte
}

// New validates key and returns a Cipher. Any length other than KeySize is
// rejected (spec.md §4.7).
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, coldtreeerr.New(coldtreeerr.CodeInvalid, "path encryption key must be 32 bytes")
	}
	c := &Cipher{}
	copy(c.key[:], key)
	return c, nil
}

// EncryptPath deterministically encrypts plaintext with a per-path nonce
// derived from HMAC(key, plaintext) (the "per-path seed equal to the path
// bytes" of spec.md §4.7), so identical paths always produce identical
// ciphertext — required for the (snapshot_id, path) uniqueness constraint to
// keep working under encryption. The nonce is prepended to the ciphertext so
// DecryptPath never needs the plaintext to recover it; the whole payload is
// then base64-encoded for storage in files.path.
func (c *Cipher) EncryptPath(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", coldtreeerr.Wrap(coldtreeerr.CodeEncryptionError, "build AES cipher", err)
	}

	nonce := c.deriveNonce([]byte(plaintext))
	stream := cipher.NewCTR(block, nonce)

	ciphertext := make([]byte, len(plaintext))
	stream.XORKeyStream(ciphertext, []byte(plaintext))

	payload := append(append([]byte{}, nonce...), ciphertext...)
	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecryptPath reverses EncryptPath. On any malformed input it returns the
// "(Decryption Failed)" marker alongside an error; callers surface that
// marker rather than dropping the row (spec.md §4.7).
func (c *Cipher) DecryptPath(stored string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "(Decryption Failed)", coldtreeerr.Wrap(coldtreeerr.CodeEncryptionError, "base64 decode path", err)
	}
	if len(raw) < aes.BlockSize {
		return "(Decryption Failed)", coldtreeerr.New(coldtreeerr.CodeEncryptionError, "stored path too short")
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "(Decryption Failed)", coldtreeerr.Wrap(coldtreeerr.CodeEncryptionError, "build AES cipher", err)
	}

	nonce := raw[:aes.BlockSize]
	ciphertext := raw[aes.BlockSize:]
	stream := cipher.NewCTR(block, nonce)

	plaintext := make([]byte, len(ciphertext))
	stream.XORKeyStream(plaintext, ciphertext)
	return string(plaintext), nil
}

// deriveNonce computes an aes.BlockSize-length nonce from HMAC-SHA256(key,
// data), truncated. Deterministic in data so identical paths always encrypt
// to identical ciphertext.
func (c *Cipher) deriveNonce(data []byte) []byte {
	mac := hmac.New(sha256.New, c.key[:])
	mac.Write(data)
	sum := mac.Sum(nil)
	return sum[:aes.BlockSize]
}

// Tokenize normalizes path into the word tokens used for both indexing
// (file_keywords at insert time) and querying (search_files), so the two
// sides always agree (spec.md §4.7: "tokenizes the query identically").
// Segments are split on path separators and punctuation (so "q1.pdf" yields
// both "q1" and "pdf", matching a bare "q1" query per spec.md §8 scenario 6),
// NFKC-normalized, and case-folded; each segment additionally yields its
// trigrams so partial-substring queries still hit the index.
func Tokenize(path string) []string {
	normalized := norm.NFKC.String(path)
	normalized = strings.ToLower(normalized)

	var segments []string
	var cur strings.Builder
	for _, r := range normalized {
		if r == '/' || r == '\\' || unicode.IsSpace(r) || unicode.IsPunct(r) {
			if cur.Len() > 0 {
				segments = append(segments, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		segments = append(segments, cur.String())
	}

	seen := make(map[string]bool)
	var tokens []string
	add := func(tok string) {
		if tok == "" || seen[tok] {
			return
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}

	for _, seg := range segments {
		add(seg)
		runes := []rune(seg)
		for i := 0; i+3 <= len(runes); i++ {
			add(string(runes[i : i+3]))
		}
	}
	return tokens
}

// HashKeyword computes the blind-index value stored in file_keywords for one
// token: HMAC-SHA256(key, token), hex-encoded (spec.md §4.7).
func (c *Cipher) HashKeyword(token string) string {
	mac := hmac.New(sha256.New, c.key[:])
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashKeywords hashes every token in Tokenize(path), for use both when
// indexing a file and when evaluating a search_files query.
func (c *Cipher) HashKeywords(path string) []string {
	tokens := Tokenize(path)
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = c.HashKeyword(t)
	}
	return out
}

