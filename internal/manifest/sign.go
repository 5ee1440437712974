package manifest

import (
	"fmt"
	"os"

	"example.com/psrconv/internal/crypto"
)

// SignatureSuffix is appended to a manifest path to name its sidecar
// signature file.
const SignatureSuffix = ".jws"

// SignFile signs the manifest file at path with an RSA private key and
// writes the detached signature next to it. The signature covers the exact
// bytes on disk, so Save must run first.
func SignFile(path string, privateKeyPEM []byte) (string, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	sig, err := crypto.SignDetached(payload, privateKeyPEM)
	if err != nil {
		return "", err
	}
	raw, err := sig.Marshal()
	if err != nil {
		return "", err
	}
	sigPath := path + SignatureSuffix
	if err := os.WriteFile(sigPath, raw, 0o644); err != nil {
		return "", fmt.Errorf("write signature: %w", err)
	}
	return sigPath, nil
}

// VerifyFile checks the manifest file at path against its sidecar signature
// using a certificate or public key in PEM form.
func VerifyFile(path string, verifierPEM []byte) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	raw, err := os.ReadFile(path + SignatureSuffix)
	if err != nil {
		return fmt.Errorf("read signature: %w", err)
	}
	sig, err := crypto.ParseJWS(raw)
	if err != nil {
		return err
	}
	return crypto.VerifyDetached(payload, sig, verifierPEM)
}
