package encryption

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulletin-service/internal/config"
)

func testKey(seed string) []byte {
	sum := sha256.Sum256([]byte(seed))
	return sum[:]
}

// fakeKMS "wraps" data keys with a fixed prefix
type fakeKMS struct {
	generated int
	decrypted int
	failNext  bool
}

func (f *fakeKMS) GenerateDataKey(_ context.Context, in *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	f.generated++
	plain := testKey(time.Now().String())
	return &kms.GenerateDataKeyOutput{
		KeyId:          in.KeyId,
		Plaintext:      plain,
		CiphertextBlob: append([]byte("wrapped:"), plain...),
	}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.decrypted++
	if f.failNext {
		return nil, errors.New("access denied")
	}
	return &kms.DecryptOutput{Plaintext: in.CiphertextBlob[len("wrapped:"):]}, nil
}

func TestLocalManager_RoundTrip(t *testing.T) {
	em, err := NewLocalManager(testKey("kek"), testKey("index"), time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	sealed, err := em.EncryptField(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "alice")

	plain, err := em.DecryptField(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", plain)

	// a fresh manager with the same wrapping key can still open it
	other, err := NewLocalManager(testKey("kek"), testKey("index"), time.Hour)
	require.NoError(t, err)
	plain, err = other.DecryptField(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", plain)

	wrongKey, err := NewLocalManager(testKey("other"), testKey("index"), time.Hour)
	require.NoError(t, err)
	_, err = wrongKey.DecryptField(ctx, sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEncryptField_EmptyStaysEmpty(t *testing.T) {
	em, err := NewLocalManager(testKey("kek"), testKey("index"), 0)
	require.NoError(t, err)

	sealed, err := em.EncryptField(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	plain, err := em.DecryptField(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestDecryptField_RejectsGarbage(t *testing.T) {
	em, err := NewLocalManager(testKey("kek"), testKey("index"), 0)
	require.NoError(t, err)

	_, err = em.DecryptField(context.Background(), "not an envelope")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestKMSManager_ReusesDataKeyUntilRotation(t *testing.T) {
	fake := &fakeKMS{}
	em := NewKMSManager(fake, "alias/bulletin", testKey("index"), time.Hour)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	em.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := em.EncryptField(ctx, "203.0.113.5")
	require.NoError(t, err)
	_, err = em.EncryptField(ctx, "198.51.100.7")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.generated)

	now = now.Add(2 * time.Hour)
	_, err = em.EncryptField(ctx, "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.generated)

	// cached keys open without a KMS call
	plain, err := em.DecryptField(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5", plain)
	assert.Zero(t, fake.decrypted)

	em.ClearCache()
	assert.Zero(t, em.GetCacheSize())
	plain, err = em.DecryptField(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5", plain)
	assert.Equal(t, 1, fake.decrypted)

	em.ClearCache()
	fake.failNext = true
	_, err = em.DecryptField(ctx, first)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestKMSManager_KeyIDFromResponse(t *testing.T) {
	em := NewKMSManager(&fakeKMS{}, "alias/bulletin", testKey("index"), 0)
	dk, err := em.GenerateDataKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alias/bulletin", dk.KeyID)
	assert.Len(t, dk.Plaintext, keySize)
}

func TestBlindIndex(t *testing.T) {
	a, err := NewLocalManager(testKey("kek"), testKey("index"), 0)
	require.NoError(t, err)
	b, err := NewLocalManager(testKey("kek"), testKey("other index"), 0)
	require.NoError(t, err)

	assert.Equal(t, a.BlindIndex("alice@example.com"), a.BlindIndex("alice@example.com"))
	assert.NotEqual(t, a.BlindIndex("alice@example.com"), a.BlindIndex("bob@example.com"))
	assert.NotEqual(t, a.BlindIndex("alice@example.com"), b.BlindIndex("alice@example.com"))
	assert.Len(t, a.BlindIndex("x"), 64)
}

func TestNewEncryptionManager_Keys(t *testing.T) {
	ctx := context.Background()

	_, err := NewEncryptionManager(ctx, config.EncryptionConfig{}, false)
	assert.ErrorIs(t, err, ErrMissingKey)

	em, err := NewEncryptionManager(ctx, config.EncryptionConfig{}, true)
	require.NoError(t, err)
	sealed, err := em.EncryptField(ctx, "a@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, sealed)

	good := base64.StdEncoding.EncodeToString(testKey("kek"))
	_, err = NewEncryptionManager(ctx, config.EncryptionConfig{LocalKey: good, IndexKey: good}, false)
	assert.NoError(t, err)

	_, err = NewEncryptionManager(ctx, config.EncryptionConfig{LocalKey: "c2hvcnQ=", IndexKey: good}, false)
	assert.ErrorIs(t, err, ErrMissingKey)
}
