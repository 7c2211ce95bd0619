package envelope

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/fgeck/gotar-homelab/internal/models"
	"golang.org/x/crypto/openpgp"
	pgperrors "golang.org/x/crypto/openpgp/errors"
	"golang.org/x/crypto/openpgp/packet"

	// Keys without hash preferences fall back to RIPEMD160.
	_ "golang.org/x/crypto/ripemd160"
)

var gpgConfig = &packet.Config{DefaultCipher: packet.CipherAES256}

// readKeyRing loads a binary or ASCII-armored keyring file.
func readKeyRing(path string) (openpgp.EntityList, error) {
	data, err := os.ReadFile(path) //nolint:gosec // keyring path is user configuration
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN PGP")) {
		return openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	}
	return openpgp.ReadKeyRing(bytes.NewReader(data))
}

func (s *Impl) findGPGRecipient(keyID string) (*openpgp.Entity, error) {
	if strings.TrimSpace(keyID) == "" {
		return nil, models.ConfigErrorf("%w: empty recipient", models.ErrKeyNotFound)
	}
	path := s.settings.Keyring
	if path == "" {
		return nil, models.ConfigErrorf("%w: encryption.keyring is not set", models.ErrKeyNotFound)
	}

	ring, err := readKeyRing(path)
	if err != nil {
		return nil, models.ConfigErrorf("%w: failed to read keyring %s: %v", models.ErrKeyNotFound, path, err)
	}

	entity := matchEntity(ring, keyID)
	if entity == nil {
		return nil, models.ConfigErrorf("%w: no public key for %q in %s", models.ErrKeyNotFound, keyID, path)
	}

	s.logger.Debug().
		Str("recipient", keyID).
		Str("key_id", entity.PrimaryKey.KeyIdString()).
		Msg("resolved gpg recipient")
	return entity, nil
}

// matchEntity finds a key by short id, long id, fingerprint or user-id
// substring.
func matchEntity(ring openpgp.EntityList, query string) *openpgp.Entity {
	id := strings.ToUpper(strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(query), "0x"), "0X"))
	if isHexID(id) {
		for _, e := range ring {
			if keyMatches(e, id) {
				return e
			}
		}
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	for _, e := range ring {
		for name := range e.Identities {
			if strings.Contains(strings.ToLower(name), needle) {
				return e
			}
		}
	}
	return nil
}

func isHexID(id string) bool {
	switch len(id) {
	case 8, 16, 40:
	default:
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

func keyMatches(e *openpgp.Entity, id string) bool {
	keys := []*packet.PublicKey{e.PrimaryKey}
	for _, sub := range e.Subkeys {
		keys = append(keys, sub.PublicKey)
	}
	for _, k := range keys {
		var candidate string
		switch len(id) {
		case 8:
			candidate = k.KeyIdShortString()
		case 16:
			candidate = k.KeyIdString()
		default:
			candidate = strings.ToUpper(hex.EncodeToString(k.Fingerprint[:]))
		}
		if candidate == id {
			return true
		}
	}
	return false
}

// checkGPGRecipient resolves keyID and encrypts an empty message to it, so
// keys without a usable encryption subkey or hash fail before archiving.
func (s *Impl) checkGPGRecipient(keyID string) error {
	entity, err := s.findGPGRecipient(keyID)
	if err != nil {
		return err
	}
	w, err := openpgp.Encrypt(io.Discard, []*openpgp.Entity{entity}, nil, &openpgp.FileHints{IsBinary: true}, gpgConfig)
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		return models.ConfigErrorf("%w: key %s cannot be used for encryption: %v",
			models.ErrKeyNotFound, entity.PrimaryKey.KeyIdString(), err)
	}
	return nil
}

func (s *Impl) gpgEncrypt(out io.Writer, spec models.EncryptionSpec, name string) (io.WriteCloser, error) {
	hints := &openpgp.FileHints{IsBinary: true, FileName: name}

	switch spec.Kind {
	case models.EncryptionRecipient:
		entity, err := s.findGPGRecipient(spec.KeyID)
		if err != nil {
			return nil, err
		}
		return openpgp.Encrypt(out, []*openpgp.Entity{entity}, nil, hints, gpgConfig)
	case models.EncryptionPassphrase:
		if spec.Passphrase == "" {
			return nil, models.ConfigErrorf("passphrase encryption requires a passphrase")
		}
		return openpgp.SymmetricallyEncrypt(out, []byte(spec.Passphrase), hints, gpgConfig)
	default:
		return nil, models.ConfigErrorf("encryption is not enabled")
	}
}

func (s *Impl) secretKeyring() openpgp.EntityList {
	path := s.settings.SecretKeyring
	if path == "" {
		return nil
	}
	ring, err := readKeyRing(path)
	if err != nil {
		s.logger.Debug().Err(err).Str("path", path).Msg("secret keyring unavailable")
		return nil
	}
	return ring
}

func (s *Impl) gpgDecrypt(r io.Reader, secret SecretFunc) (io.Reader, error) {
	attempts := 0
	prompt := func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		attempts++
		if attempts > 1 {
			return nil, models.PipelineErrorf("decryption failed: wrong passphrase")
		}
		pass, err := secret()
		if err != nil {
			return nil, models.ConfigErrorf("passphrase required to decrypt archive: %w", err)
		}
		for _, k := range keys {
			if k.PrivateKey != nil && k.PrivateKey.Encrypted {
				_ = k.PrivateKey.Decrypt([]byte(pass))
			}
		}
		if symmetric {
			return []byte(pass), nil
		}
		return nil, nil
	}

	md, err := openpgp.ReadMessage(r, s.secretKeyring(), prompt, gpgConfig)
	if err != nil {
		if models.KindOf(err) != models.KindUnknown {
			return nil, err
		}
		if errors.Is(err, pgperrors.ErrKeyIncorrect) {
			return nil, models.ConfigErrorf("%w: no secret key can decrypt this archive", models.ErrKeyNotFound)
		}
		return nil, models.PipelineErrorf("decrypting archive: %w", err)
	}
	return md.UnverifiedBody, nil
}
