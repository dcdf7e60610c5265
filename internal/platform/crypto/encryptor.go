package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrDecrypt 密文被篡改或密钥不匹配
var ErrDecrypt = errors.New("credential decrypt failed")

// Encryptor 凭据加解密（AES-256-GCM，密钥由任意字符串经 SHA-256 派生）
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor 创建加密器
func NewEncryptor(key string) (*Encryptor, error) {
	if key == "" {
		return nil, errors.New("encryption key is empty")
	}
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt 返回 base64(nonce || ciphertext)
func (e *Encryptor) Encrypt(plain []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt Encrypt 的逆操作
func (e *Encryptor) Decrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecrypt
	}
	ns := e.aead.NonceSize()
	if len(raw) < ns {
		return nil, ErrDecrypt
	}
	plain, err := e.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// EncryptJSON 序列化后加密
func (e *Encryptor) EncryptJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal credential data: %w", err)
	}
	return e.Encrypt(data)
}

// DecryptJSON 解密后反序列化到 out
func (e *Encryptor) DecryptJSON(encoded string, out any) error {
	plain, err := e.Decrypt(encoded)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("unmarshal credential data: %w", err)
	}
	return nil
}

// HashKey API Key 摘要，库里只存摘要
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// RandomToken 生成 n 字节随机数的十六进制串
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
