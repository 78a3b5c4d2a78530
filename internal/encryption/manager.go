// Package encryption seals personal data with envelope encryption. Data
// keys come from AWS KMS when it is enabled and are otherwise wrapped under
// a locally configured key.
package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"

	"bulletin-service/internal/config"
	"bulletin-service/internal/util"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrMissingKey       = errors.New("encryption key not configured")
)

const (
	envelopeVersion = "v1"
	localKeyID      = "local"
	keySize         = 32
)

// KMSAPI is the part of the KMS client the manager needs
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type EncryptedData struct {
	EncryptedValue string `json:"v"`
	EncryptedDEK   string `json:"k"`
	KeyID          string `json:"id"`
	Version        string `json:"ver"`
}

type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
	createdAt  time.Time
}

type EncryptionManager struct {
	kmsClient KMSAPI
	keyID     string
	localKEK  []byte
	indexKey  []byte
	rotation  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	current  *DataKey
	keyCache sync.Map // encrypted DEK -> plaintext DEK
}

// NewEncryptionManager builds the manager from configuration. Outside of
// development every key must be configured explicitly.
func NewEncryptionManager(ctx context.Context, cfg config.EncryptionConfig, development bool) (*EncryptionManager, error) {
	indexKey, err := resolveKey(cfg.IndexKey, "ENCRYPTION_INDEX_KEY", "bulletin-service development index key", development)
	if err != nil {
		return nil, err
	}

	if cfg.KMSEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMSRegion))
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		util.Info("Encryption using AWS KMS", util.String("region", cfg.KMSRegion))
		return NewKMSManager(kms.NewFromConfig(awsCfg), cfg.KMSKeyID, indexKey, cfg.DEKRotation), nil
	}

	kek, err := resolveKey(cfg.LocalKey, "ENCRYPTION_LOCAL_KEY", "bulletin-service development wrapping key", development)
	if err != nil {
		return nil, err
	}
	return NewLocalManager(kek, indexKey, cfg.DEKRotation)
}

func NewKMSManager(client KMSAPI, keyID string, indexKey []byte, rotation time.Duration) *EncryptionManager {
	return &EncryptionManager{
		kmsClient: client,
		keyID:     keyID,
		indexKey:  indexKey,
		rotation:  rotation,
		now:       time.Now,
	}
}

func NewLocalManager(kek, indexKey []byte, rotation time.Duration) (*EncryptionManager, error) {
	if len(kek) != keySize {
		return nil, fmt.Errorf("%w: wrapping key must be %d bytes (got %d)", ErrMissingKey, keySize, len(kek))
	}
	return &EncryptionManager{
		keyID:    localKeyID,
		localKEK: kek,
		indexKey: indexKey,
		rotation: rotation,
		now:      time.Now,
	}, nil
}

// resolveKey decodes a base64 key, or derives a fixed one in development
func resolveKey(encoded, name, devSeed string, development bool) ([]byte, error) {
	if encoded == "" {
		if !development {
			return nil, fmt.Errorf("%w: %s is required outside development", ErrMissingKey, name)
		}
		util.Warn("Using derived development key", util.String("key", name))
		sum := sha256.Sum256([]byte(devSeed))
		return sum[:], nil
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not base64", ErrMissingKey, name)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: %s must decode to %d bytes", ErrMissingKey, name, keySize)
	}
	return key, nil
}

// GenerateDataKey returns the current data key, asking for a fresh one once
// the rotation period has passed.
func (em *EncryptionManager) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.current != nil && (em.rotation <= 0 || em.now().Sub(em.current.createdAt) < em.rotation) {
		return em.current, nil
	}

	var dk *DataKey
	var err error
	if em.kmsClient != nil {
		dk, err = em.generateKMSKey(ctx)
	} else {
		dk, err = em.generateLocalKey()
	}
	if err != nil {
		return nil, err
	}

	em.keyCache.Store(base64.StdEncoding.EncodeToString(dk.Ciphertext), dk.Plaintext)
	em.current = dk
	util.Debug("Data key generated", util.String("key_id", dk.KeyID))
	return dk, nil
}

func (em *EncryptionManager) generateKMSKey(ctx context.Context) (*DataKey, error) {
	result, err := em.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(em.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	keyID := em.keyID
	if result.KeyId != nil {
		keyID = *result.KeyId
	}
	return &DataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      keyID,
		createdAt:  em.now(),
	}, nil
}

func (em *EncryptionManager) generateLocalKey() (*DataKey, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	wrapped, err := seal(em.localKEK, key)
	if err != nil {
		return nil, err
	}
	return &DataKey{
		Plaintext:  key,
		Ciphertext: wrapped,
		KeyID:      localKeyID,
		createdAt:  em.now(),
	}, nil
}

// EncryptField seals plaintext into a self-describing envelope string.
// The empty string stays empty.
func (em *EncryptionManager) EncryptField(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	dk, err := em.GenerateDataKey(ctx)
	if err != nil {
		return "", err
	}

	ciphertext, err := seal(dk.Plaintext, []byte(plaintext))
	if err != nil {
		return "", err
	}

	envelope, err := json.Marshal(EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   base64.StdEncoding.EncodeToString(dk.Ciphertext),
		KeyID:          dk.KeyID,
		Version:        envelopeVersion,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return base64.RawURLEncoding.EncodeToString(envelope), nil
}

func (em *EncryptionManager) DecryptField(ctx context.Context, sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: invalid envelope encoding", ErrDecryptionFailed)
	}
	var data EncryptedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("%w: invalid envelope", ErrDecryptionFailed)
	}
	if data.Version != envelopeVersion {
		return "", fmt.Errorf("%w: unsupported envelope version %q", ErrDecryptionFailed, data.Version)
	}

	key, err := em.unwrapKey(ctx, data)
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(data.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	plaintext, err := open(key, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (em *EncryptionManager) unwrapKey(ctx context.Context, data EncryptedData) ([]byte, error) {
	if cached, ok := em.keyCache.Load(data.EncryptedDEK); ok {
		return cached.([]byte), nil
	}

	blob, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	var key []byte
	switch {
	case data.KeyID == localKeyID:
		if em.localKEK == nil {
			return nil, fmt.Errorf("%w: local key not configured", ErrDecryptionFailed)
		}
		if key, err = open(em.localKEK, blob); err != nil {
			return nil, err
		}
	case em.kmsClient != nil:
		result, err := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
		if err != nil {
			util.Error("Failed to decrypt data key", util.String("key_id", data.KeyID), zap.Error(err))
			return nil, fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		key = result.Plaintext
	default:
		return nil, fmt.Errorf("%w: key %q needs KMS", ErrDecryptionFailed, data.KeyID)
	}

	em.keyCache.Store(data.EncryptedDEK, key)
	return key, nil
}

// BlindIndex is a keyed hash usable as an equality lookup key in place of
// the plaintext value.
func (em *EncryptionManager) BlindIndex(value string) string {
	mac := hmac.New(sha256.New, em.indexKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// ClearCache drops cached data keys; the next seal generates a new one
func (em *EncryptionManager) ClearCache() {
	em.mu.Lock()
	em.current = nil
	em.mu.Unlock()

	em.keyCache.Range(func(key, _ any) bool {
		em.keyCache.Delete(key)
		return true
	})
}

func (em *EncryptionManager) GetCacheSize() int {
	count := 0
	em.keyCache.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

func seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
