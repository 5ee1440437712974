// Package crypto signs and verifies delivery manifests. A manifest ships
// with a detached RS256 JWS over its exact JSON bytes, so a recipient can
// prove the file list and digests were not altered in transit.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
)

var (
	ErrNoPEMBlock   = errors.New("no pem block in key material")
	ErrBadSignature = errors.New("manifest signature does not verify")
)

// JWS is a JSON-serialized detached signature. The signed bytes travel
// separately as the manifest file itself.
type JWS struct {
	Protected string `json:"protected"`
	Signature string `json:"signature"`
}

// SignDetached signs payload with an RSA private key in PEM form (PKCS#1 or
// PKCS#8) and returns the detached signature.
func SignDetached(payload, privateKeyPEM []byte) (JWS, error) {
	priv, err := parseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return JWS{}, err
	}
	hdr, _ := json.Marshal(map[string]string{"alg": "RS256"})
	protected := base64.RawURLEncoding.EncodeToString(hdr)

	input := protected + "." + base64.RawURLEncoding.EncodeToString(payload)
	h := sha256.Sum256([]byte(input))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, h[:])
	if err != nil {
		return JWS{}, fmt.Errorf("sign manifest: %w", err)
	}
	return JWS{
		Protected: protected,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	}, nil
}

// VerifyDetached checks sig against payload using a verifier in PEM form: an
// X.509 certificate, a PKIX public key, or a PKCS#1 public key.
func VerifyDetached(payload []byte, sig JWS, verifierPEM []byte) error {
	pub, err := parseRSAPublicKey(verifierPEM)
	if err != nil {
		return err
	}
	rawSig, err := base64.RawURLEncoding.DecodeString(sig.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature encoding: %v", ErrBadSignature, err)
	}
	input := sig.Protected + "." + base64.RawURLEncoding.EncodeToString(payload)
	h := sha256.Sum256([]byte(input))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], rawSig); err != nil {
		return ErrBadSignature
	}
	return nil
}

// Marshal renders the signature as the sidecar file contents.
func (j JWS) Marshal() ([]byte, error) {
	b, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// ParseJWS reads a signature written by Marshal.
func ParseJWS(raw []byte) (JWS, error) {
	var j JWS
	if err := json.Unmarshal(raw, &j); err != nil {
		return j, fmt.Errorf("parse jws: %w", err)
	}
	if j.Protected == "" || j.Signature == "" {
		return j, errors.New("parse jws: missing fields")
	}
	return j, nil
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrNoPEMBlock
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return rsaKey, nil
}

func parseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrNoPEMBlock
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		if pub, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			return pub, nil
		}
		return nil, errors.New("certificate key is not RSA")
	}
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaPub, ok := pub.(*rsa.PublicKey); ok {
			return rsaPub, nil
		}
		return nil, errors.New("public key is not RSA")
	}
	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}
