package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// VRFOutputSize is the length of a randomness output in bytes.
const VRFOutputSize = 32

var vrfSalt = []byte("tolotto-vrf")

// VRFProve produces a proof over msg. ed25519 signatures are deterministic,
// so the same key and message always yield the same proof and output.
func VRFProve(priv PrivateKey, msg []byte) (proof, output []byte, err error) {
	proof = ed25519.Sign(ed25519.PrivateKey(priv), msg)
	output, err = vrfOutput(proof, msg)
	if err != nil {
		return nil, nil, err
	}
	return proof, output, nil
}

// VRFVerify checks proof against pub and msg and returns the output it
// commits to.
func VRFVerify(pub PublicKey, msg, proof []byte) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("pubkey must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, proof) {
		return nil, errors.New("vrf proof verification failed")
	}
	return vrfOutput(proof, msg)
}

func vrfOutput(proof, msg []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, proof, vrfSalt, msg)
	out := make([]byte, VRFOutputSize)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("derive vrf output: %w", err)
	}
	return out, nil
}
