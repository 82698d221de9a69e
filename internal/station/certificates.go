package station

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// CertificateHash addresses an installed certificate the way OCPP does on the
// wire.
type CertificateHash struct {
	HashAlgorithm  string `json:"hashAlgorithm"`
	IssuerNameHash string `json:"issuerNameHash"`
	IssuerKeyHash  string `json:"issuerKeyHash"`
	SerialNumber   string `json:"serialNumber"`
}

// InstalledCertificate is one occupied certificate slot.
type InstalledCertificate struct {
	Type string
	Hash CertificateHash
}

// maxInstalledCertificates caps the simulated certificate slots.
const maxInstalledCertificates = 10

// CertificateStore holds the certificates pushed by InstallCertificate.
// Certificates are never parsed; the hash data is derived from the raw
// payload so install, list and delete address the same entry. Signing and
// validation stay with the pluggable certificate manager.
type CertificateStore struct {
	mu        sync.RWMutex
	installed []InstalledCertificate
}

// NewCertificateStore starts with every slot free.
func NewCertificateStore() *CertificateStore {
	return &CertificateStore{}
}

// HashCertificate derives stable wire hash data from the raw certificate.
func HashCertificate(certificate string) CertificateHash {
	trimmed := strings.TrimSpace(certificate)
	name := sha256.Sum256([]byte(trimmed))
	key := sha256.Sum256([]byte("key:" + trimmed))
	serial := sha256.Sum256([]byte("serial:" + trimmed))
	return CertificateHash{
		HashAlgorithm:  "SHA256",
		IssuerNameHash: hex.EncodeToString(name[:]),
		IssuerKeyHash:  hex.EncodeToString(key[:]),
		SerialNumber:   hex.EncodeToString(serial[:8]),
	}
}

// Install stores a certificate under certType. Reinstalling the same
// certificate overwrites its slot; false means the payload was empty or all
// slots are taken.
func (c *CertificateStore) Install(certType, certificate string) bool {
	if strings.TrimSpace(certificate) == "" {
		return false
	}
	hash := HashCertificate(certificate)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cert := range c.installed {
		if cert.Hash == hash {
			c.installed[i].Type = certType
			return true
		}
	}
	if len(c.installed) >= maxInstalledCertificates {
		return false
	}
	c.installed = append(c.installed, InstalledCertificate{Type: certType, Hash: hash})
	return true
}

// Delete removes the certificate addressed by hash; false means not found.
// The hash algorithm name is compared case-insensitively.
func (c *CertificateStore) Delete(hash CertificateHash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cert := range c.installed {
		if strings.EqualFold(cert.Hash.HashAlgorithm, hash.HashAlgorithm) &&
			cert.Hash.IssuerNameHash == hash.IssuerNameHash &&
			cert.Hash.IssuerKeyHash == hash.IssuerKeyHash &&
			cert.Hash.SerialNumber == hash.SerialNumber {
			c.installed = append(c.installed[:i], c.installed[i+1:]...)
			return true
		}
	}
	return false
}

// Installed lists the occupied slots, filtered to the given types. An empty
// filter returns everything.
func (c *CertificateStore) Installed(types ...string) []InstalledCertificate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []InstalledCertificate
	for _, cert := range c.installed {
		if len(types) > 0 && !containsType(types, cert.Type) {
			continue
		}
		out = append(out, cert)
	}
	return out
}

// Len reports how many slots are occupied.
func (c *CertificateStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.installed)
}

func containsType(types []string, t string) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
