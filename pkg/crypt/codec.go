package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"zerobin/svc/util"
)

const (
	EnvelopeVersion   = 1
	CipherAES         = "aes"
	CipherXChaCha     = "xchacha20poly1305"
	DefaultIterations = 10000
	MinIterations     = 1000
	MaxIterations     = 1000000

	kdfPBKDF2 = "pbkdf2-sha256"
	modeGCM   = "gcm"
	modeAEAD  = "aead"
	saltSize  = 8
	keyBits   = 256
	tagBits   = 128
)

// Envelope is the wire form of one encrypted text. Binary fields are standard base64.
type Envelope struct {
	Version int    `json:"v"`
	Cipher  string `json:"cipher"`
	Mode    string `json:"mode"`
	KDF     string `json:"kdf"`
	Iter    int    `json:"iter"`
	KeySize int    `json:"ks"`
	TagSize int    `json:"ts"`
	Salt    string `json:"salt"`
	IV      string `json:"iv"`
	CT      string `json:"ct"`
}

// header is bound into the AEAD as associated data so parameters cannot be swapped.
func (e *Envelope) header() []byte {
	return []byte(fmt.Sprintf("zerobin/v%d/%s/%s/%s/%d/%d/%d/%s",
		e.Version, e.Cipher, e.Mode, e.KDF, e.Iter, e.KeySize, e.TagSize, e.Salt))
}

// ParseEnvelope decodes envelope text without opening it.
func ParseEnvelope(text string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, decryptErr("malformed envelope", err)
	}
	return &env, nil
}

type Codec struct {
	cipher     string
	iterations int
	rand       io.Reader
}

type Option func(*Codec)

func WithCipher(name string) Option {
	return func(c *Codec) {
		c.cipher = name
	}
}

func WithIterations(n int) Option {
	return func(c *Codec) {
		c.iterations = n
	}
}

// WithRandom replaces the salt and IV source. Tests only.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) {
		c.rand = r
	}
}

func NewCodec(opts ...Option) (*Codec, error) {
	c := &Codec{
		cipher:     CipherAES,
		iterations: DefaultIterations,
		rand:       rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, ok := modes[c.cipher]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCipher, c.cipher)
	}
	if c.iterations < MinIterations || c.iterations > MaxIterations {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIterations, c.iterations)
	}
	return c, nil
}

var modes = map[string]string{
	CipherAES:     modeGCM,
	CipherXChaCha: modeAEAD,
}

// Encrypt seals plaintext under key with a fresh salt and IV and returns envelope text.
func (c *Codec) Encrypt(key Key, plaintext string) (string, error) {
	if key.IsZero() {
		return "", ErrInvalidKey
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(c.rand, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	env := Envelope{
		Version: EnvelopeVersion,
		Cipher:  c.cipher,
		Mode:    modes[c.cipher],
		KDF:     kdfPBKDF2,
		Iter:    c.iterations,
		KeySize: keyBits,
		TagSize: tagBits,
		Salt:    base64.StdEncoding.EncodeToString(salt),
	}
	dk := deriveKey(key, salt, env.Iter)
	defer util.Wipe(dk)
	aead, err := newAEAD(env.Cipher, dk)
	if err != nil {
		return "", err
	}
	iv := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("read iv: %w", err)
	}
	env.IV = base64.StdEncoding.EncodeToString(iv)
	ct := aead.Seal(nil, iv, []byte(plaintext), env.header())
	env.CT = base64.StdEncoding.EncodeToString(ct)
	out, err := json.Marshal(&env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(out), nil
}

// Decrypt opens envelope text. Any failure is a *DecryptionError and no plaintext is returned.
func (c *Codec) Decrypt(key Key, text string) (string, error) {
	if key.IsZero() {
		return "", decryptErr("missing key", ErrKeyNotFound)
	}
	env, err := ParseEnvelope(text)
	if err != nil {
		return "", err
	}
	if err := validate(env); err != nil {
		return "", err
	}
	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil || len(salt) == 0 {
		return "", decryptErr("malformed salt", err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return "", decryptErr("malformed iv", err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.CT)
	if err != nil {
		return "", decryptErr("malformed ciphertext", err)
	}
	dk := deriveKey(key, salt, env.Iter)
	defer util.Wipe(dk)
	aead, err := newAEAD(env.Cipher, dk)
	if err != nil {
		return "", decryptErr("unsupported cipher", err)
	}
	if len(iv) != aead.NonceSize() {
		return "", decryptErr("bad iv length", nil)
	}
	if len(ct) < aead.Overhead() {
		return "", decryptErr("ciphertext too short", nil)
	}
	pt, err := aead.Open(nil, iv, ct, env.header())
	if err != nil {
		return "", decryptErr("authentication failed", err)
	}
	return string(pt), nil
}

func validate(env *Envelope) error {
	switch {
	case env.Version != EnvelopeVersion:
		return decryptErr(fmt.Sprintf("unsupported version %d", env.Version), nil)
	case modes[env.Cipher] == "" || modes[env.Cipher] != env.Mode:
		return decryptErr("unsupported cipher", ErrUnsupportedCipher)
	case env.KDF != kdfPBKDF2:
		return decryptErr("unsupported kdf", nil)
	case env.Iter < MinIterations || env.Iter > MaxIterations:
		return decryptErr("iteration count out of range", ErrInvalidIterations)
	case env.KeySize != keyBits || env.TagSize != tagBits:
		return decryptErr("unsupported key or tag size", nil)
	}
	return nil
}

func deriveKey(key Key, salt []byte, iter int) []byte {
	return pbkdf2.Key([]byte(key.text), salt, iter, keyBits/8, sha256.New)
}

func newAEAD(name string, dk []byte) (cipher.AEAD, error) {
	switch name {
	case CipherAES:
		block, err := aes.NewCipher(dk)
		if err != nil {
			return nil, fmt.Errorf("create cipher: %w", err)
		}
		return cipher.NewGCM(block)
	case CipherXChaCha:
		return chacha20poly1305.NewX(dk)
	}
	return nil, ErrUnsupportedCipher
}
