// Package crypto loads the bot wallet key, optionally from a password
// encrypted file, and signs ledger transactions with it.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

// Key file parameters. The address is stored in clear and authenticated as
// GCM additional data, so editing it invalidates the file.
const (
	keyFileVersion = 3
	kdfIterations  = 480_000
	kdfSaltLen     = 16
	kdfKeyLen      = 32
)

var errEmptyPassword = errors.New("crypto: key file password must not be empty")

// keyFile is the JSON document written by cmd/keytool. Byte fields are
// base64 encoded by encoding/json.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// KeyConfig names where the wallet key comes from.
type KeyConfig struct {
	// RawPrivateKey is hex, with or without 0x. It wins over the file.
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

func parseKey(s string) (*ecdsa.PrivateKey, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return pk, nil
}

func sealer(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, iterations, kdfKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: key file cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptKey seals a hex private key under password and returns the key file
// document.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errEmptyPassword
	}
	pk, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	kf := keyFile{
		Version:    keyFileVersion,
		Address:    ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(),
		Iterations: kdfIterations,
		Salt:       make([]byte, kdfSaltLen),
	}
	if _, err := rand.Read(kf.Salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := sealer(password, kf.Salt, kf.Iterations)
	if err != nil {
		return nil, err
	}
	kf.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(kf.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	kf.Ciphertext = aead.Seal(nil, kf.Nonce, ethcrypto.FromECDSA(pk), []byte(kf.Address))
	return json.MarshalIndent(kf, "", "  ")
}

// DecryptKey opens a key file document and returns the private key as hex
// without 0x.
func DecryptKey(doc []byte, password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}
	kf, err := parseKeyFile(doc)
	if err != nil {
		return "", err
	}
	if kf.Iterations < 1 {
		return "", errors.New("crypto: key file: missing kdf iterations")
	}

	aead, err := sealer(password, kf.Salt, kf.Iterations)
	if err != nil {
		return "", err
	}
	if len(kf.Nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: key file: nonce is %d bytes", len(kf.Nonce))
	}
	raw, err := aead.Open(nil, kf.Nonce, kf.Ciphertext, []byte(kf.Address))
	if err != nil {
		return "", errors.New("crypto: key file: wrong password or modified file")
	}

	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return "", fmt.Errorf("crypto: key file: %w", err)
	}
	if got := ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(); got != kf.Address {
		return "", fmt.Errorf("crypto: key file: records %s but holds %s", kf.Address, got)
	}
	return hex.EncodeToString(raw), nil
}

func parseKeyFile(doc []byte) (keyFile, error) {
	var kf keyFile
	if err := json.Unmarshal(doc, &kf); err != nil {
		return kf, fmt.Errorf("crypto: key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return kf, fmt.Errorf("crypto: key file: version %d, want %d", kf.Version, keyFileVersion)
	}
	return kf, nil
}

// KeyFileAddress returns the address recorded in an encrypted key file
// without needing the password.
func KeyFileAddress(path string) (string, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("crypto: %w", err)
	}
	kf, err := parseKeyFile(doc)
	if err != nil {
		return "", err
	}
	return kf.Address, nil
}

// LoadKey resolves the private key, preferring the raw key over the file.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		pk, err := parseKey(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(ethcrypto.FromECDSA(pk)), nil
	case cfg.EncryptedKeyPath != "":
		doc, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: %w", err)
		}
		return DecryptKey(doc, cfg.KeyPassword)
	default:
		return "", errors.New("crypto: no wallet key configured (set wallet.private_key or wallet.encrypted_key_path)")
	}
}

// LoadSigner resolves the key from cfg and builds a Signer for chainID.
func LoadSigner(cfg KeyConfig, chainID int64) (*Signer, error) {
	key, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewSigner(key, chainID)
}
