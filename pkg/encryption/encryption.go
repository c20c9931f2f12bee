// Package encryption provides at-rest encryption for brainy noun and
// verb metadata: AES-256-GCM with versioned keys, so a field encrypted
// under an old key version still decrypts after rotation.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// versionHeaderSize is the width of the key-version prefix on every
// ciphertext: [4 bytes version][nonce][ciphertext].
const versionHeaderSize = 4

var (
	ErrInvalidKey       = errors.New("encryption: invalid key length (must be 32 bytes)")
	ErrInvalidData      = errors.New("encryption: invalid encrypted data")
	ErrDecryptionFailed = errors.New("encryption: decryption failed (authentication error)")
	ErrNoKey            = errors.New("encryption: no encryption key available")
	ErrKeyNotFound      = errors.New("encryption: key version not found")
	ErrKeyExpired       = errors.New("encryption: key has expired")
)

// Key is a versioned AES-256 key.
type Key struct {
	ID        uint32
	Material  []byte
	CreatedAt time.Time
	ExpiresAt time.Time
	Active    bool
}

// IsExpired reports whether the key's lease has passed.
func (k *Key) IsExpired() bool {
	if k.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(k.ExpiresAt)
}

// Validate checks the key is usable.
func (k *Key) Validate() error {
	if len(k.Material) != 32 {
		return ErrInvalidKey
	}
	if k.IsExpired() {
		return ErrKeyExpired
	}
	return nil
}

// Config controls key derivation and rotation.
type Config struct {
	Enabled       bool
	KeyDerivation KeyDerivationConfig
	Rotation      KeyRotationConfig
}

// KeyDerivationConfig configures PBKDF2-derived keys from a passphrase.
type KeyDerivationConfig struct {
	Salt       []byte
	Iterations int
}

// KeyRotationConfig controls automatic key rotation.
type KeyRotationConfig struct {
	Enabled     bool
	Interval    time.Duration
	RetainCount int
}

// DefaultConfig returns OWASP-recommended defaults: 600,000 PBKDF2
// iterations, quarterly rotation, 5 retained keys.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		KeyDerivation: KeyDerivationConfig{
			Iterations: 600000,
		},
		Rotation: KeyRotationConfig{
			Enabled:     true,
			Interval:    90 * 24 * time.Hour,
			RetainCount: 5,
		},
	}
}

// KeyManager holds versioned keys and rotates them. Reads take an
// RLock; rotation and additions take an exclusive Lock, same shape as
// pkg/store/lock.go's ownership bookkeeping translated to in-process
// concurrency instead of storage keys.
type KeyManager struct {
	mu      sync.RWMutex
	keys    map[uint32]*Key
	current uint32
	config  Config
}

// NewKeyManager creates an empty key manager under config.
func NewKeyManager(config Config) *KeyManager {
	return &KeyManager{keys: make(map[uint32]*Key), config: config}
}

// AddKey registers key, making it current if Active is set.
func (km *KeyManager) AddKey(key *Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	km.mu.Lock()
	defer km.mu.Unlock()
	km.keys[key.ID] = key
	if key.Active {
		km.current = key.ID
	}
	return nil
}

// GetKey returns the key for version, or ErrKeyNotFound.
func (km *KeyManager) GetKey(version uint32) (*Key, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	key, ok := km.keys[version]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// CurrentKey returns the active key for new encryptions.
func (km *KeyManager) CurrentKey() (*Key, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	if km.current == 0 {
		return nil, ErrNoKey
	}
	key, ok := km.keys[km.current]
	if !ok {
		return nil, ErrNoKey
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return key, nil
}

// RotateKey generates a new key, deactivates the old current key, and
// prunes keys beyond the retention window.
func (km *KeyManager) RotateKey() (*Key, error) {
	material := make([]byte, 32)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("encryption: failed to generate key: %w", err)
	}

	km.mu.Lock()
	defer km.mu.Unlock()

	if current, ok := km.keys[km.current]; ok {
		current.Active = false
	}

	newID := km.current + 1
	key := &Key{
		ID:        newID,
		Material:  material,
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}
	if km.config.Rotation.Enabled && km.config.Rotation.Interval > 0 {
		key.ExpiresAt = key.CreatedAt.Add(km.config.Rotation.Interval * 2)
	}

	km.keys[newID] = key
	km.current = newID
	km.cleanupOldKeys()
	return key, nil
}

func (km *KeyManager) cleanupOldKeys() {
	if !km.config.Rotation.Enabled || km.config.Rotation.RetainCount <= 0 {
		return
	}
	keep := km.config.Rotation.RetainCount + 1
	if len(km.keys) <= keep {
		return
	}
	minVersion := km.current
	for version := range km.keys {
		if version < minVersion {
			minVersion = version
		}
	}
	for len(km.keys) > keep {
		delete(km.keys, minVersion)
		minVersion++
	}
}

// KeyCount returns the number of keys currently retained.
func (km *KeyManager) KeyCount() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.keys)
}

// Encryptor performs field-level AES-256-GCM encryption against a
// KeyManager. A disabled Encryptor passes bytes through unchanged
// (base64-wrapped for Encrypt/Decrypt) so callers don't need to branch
// on config.EncryptionConfig.Enabled themselves.
type Encryptor struct {
	km      *KeyManager
	enabled bool
}

// NewEncryptor wraps an existing KeyManager.
func NewEncryptor(km *KeyManager, enabled bool) *Encryptor {
	return &Encryptor{km: km, enabled: enabled}
}

// NewEncryptorWithPassword derives a single AES-256 key from passphrase
// via PBKDF2-HMAC-SHA256 and builds an Encryptor around it. This is the
// path config.EncryptionConfig.Passphrase takes.
func NewEncryptorWithPassword(passphrase string, config Config) (*Encryptor, error) {
	if !config.Enabled {
		return &Encryptor{enabled: false}, nil
	}

	salt := config.KeyDerivation.Salt
	if len(salt) == 0 {
		salt = []byte("brainy-default-salt-change-me")
	}
	iterations := config.KeyDerivation.Iterations
	if iterations <= 0 {
		iterations = 600000
	}

	material := pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New)

	km := NewKeyManager(config)
	key := &Key{ID: 1, Material: material, CreatedAt: time.Now().UTC(), Active: true}
	if err := km.AddKey(key); err != nil {
		return nil, err
	}
	return &Encryptor{km: km, enabled: true}, nil
}

// Encrypt encrypts plaintext and returns base64-encoded ciphertext
// prefixed with a key-version header. With encryption disabled, it
// returns plaintext base64-encoded unchanged.
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	if !e.enabled {
		return base64.StdEncoding.EncodeToString(plaintext), nil
	}
	key, err := e.km.CurrentKey()
	if err != nil {
		return "", err
	}
	ciphertext, err := encrypt(plaintext, key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt, resolving the key version from the header.
func (e *Encryptor) Decrypt(ciphertext string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrInvalidData
	}
	if !e.enabled {
		return data, nil
	}
	if len(data) < versionHeaderSize {
		return nil, ErrInvalidData
	}
	version := binary.BigEndian.Uint32(data[:versionHeaderSize])
	key, err := e.km.GetKey(version)
	if err != nil {
		return nil, err
	}
	return decrypt(data[versionHeaderSize:], key)
}

// EncryptString is Encrypt for a string plaintext.
func (e *Encryptor) EncryptString(plaintext string) (string, error) {
	return e.Encrypt([]byte(plaintext))
}

// DecryptString is Decrypt returning a string.
func (e *Encryptor) DecryptString(ciphertext string) (string, error) {
	data, err := e.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EncryptField encrypts a single noun/verb metadata value, returning
// "enc:v{version}:{base64}" so DecryptField can recognize it later
// without a side-channel flag.
func (e *Encryptor) EncryptField(value string) (string, error) {
	if !e.enabled {
		return value, nil
	}
	ciphertext, err := e.EncryptString(value)
	if err != nil {
		return "", err
	}
	key, err := e.km.CurrentKey()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("enc:v%d:%s", key.ID, ciphertext), nil
}

// DecryptField reverses EncryptField. A value without the "enc:"
// prefix is returned unchanged, so callers can round-trip metadata
// maps that mix encrypted and plaintext fields.
func (e *Encryptor) DecryptField(encrypted string) (string, error) {
	if !e.enabled {
		return encrypted, nil
	}
	if len(encrypted) < 6 || encrypted[:4] != "enc:" {
		return encrypted, nil
	}

	var version uint32
	var ciphertext string
	if _, err := fmt.Sscanf(encrypted, "enc:v%d:%s", &version, &ciphertext); err != nil {
		return encrypted, nil
	}
	return e.DecryptString(ciphertext)
}

// IsEnabled reports whether this Encryptor actually encrypts.
func (e *Encryptor) IsEnabled() bool { return e.enabled }

// KeyManager returns the underlying key manager.
func (e *Encryptor) KeyManager() *KeyManager { return e.km }

func encrypt(plaintext []byte, key *Key) ([]byte, error) {
	block, err := aes.NewCipher(key.Material)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	result := make([]byte, versionHeaderSize+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint32(result[:versionHeaderSize], key.ID)
	copy(result[versionHeaderSize:], nonce)
	copy(result[versionHeaderSize+len(nonce):], ciphertext)
	return result, nil
}

func decrypt(data []byte, key *Key) ([]byte, error) {
	block, err := aes.NewCipher(key.Material)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidData
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// DeriveKey derives a 32-byte AES-256 key from passphrase and salt
// using PBKDF2-HMAC-SHA256. iterations <= 0 uses the OWASP-recommended
// 600,000.
func DeriveKey(passphrase, salt []byte, iterations int) []byte {
	if iterations <= 0 {
		iterations = 600000
	}
	return pbkdf2.Key(passphrase, salt, iterations, 32, sha256.New)
}

// GenerateKey returns a random 32-byte AES-256 key from crypto/rand.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateSalt returns a random 32-byte salt for DeriveKey.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// HashKey returns a short, non-reversible fingerprint of key material
// suitable for logging which key version is in use.
func HashKey(key []byte) string {
	hash := sha256.Sum256(key)
	return hex.EncodeToString(hash[:16])
}

// SecureWipe zeros data in place, shrinking the window sensitive bytes
// (keys, passphrases, decrypted field values) sit in memory.
func SecureWipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// FieldEncryptionConfig lists metadata keys to treat as encrypted
// fields. brainy's Database.Add does not consult it: with
// AddOptions.Encrypt set, Add encrypts every string value in md.Extra.
type FieldEncryptionConfig struct {
	EncryptFields []string
	SensitiveFields []string
}

// ShouldEncryptField reports whether fieldName is configured for
// encryption, either explicitly or via the sensitive-field list.
func (c *FieldEncryptionConfig) ShouldEncryptField(fieldName string) bool {
	for _, f := range c.EncryptFields {
		if f == fieldName {
			return true
		}
	}
	for _, f := range c.SensitiveFields {
		if f == fieldName {
			return true
		}
	}
	return false
}

// DefaultSensitiveFields returns common metadata key names worth
// encrypting by default: contact details, credentials, and financial
// identifiers that might end up in noun/verb metadata.
func DefaultSensitiveFields() []string {
	return []string{
		"email", "email_address",
		"phone", "phone_number",
		"address", "street_address", "postal_code", "zip_code",
		"credit_card", "card_number", "cvv",
		"password", "password_hash",
		"api_key", "secret_key", "access_token",
		"ssn", "account_number", "routing_number",
	}
}
