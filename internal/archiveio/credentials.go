package archiveio

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// Credentials locate the client certificate, or the basic auth fallback.
// Private key and password files ending in ".age" are decrypted with the
// identities file.
type Credentials struct {
	CertFile       string
	KeyFile        string
	CAFile         string
	IdentitiesFile string

	Username     string
	PasswordFile string
}

func (c Credentials) HasCertificate() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// LoadCertificate reads the client certificate and its private key.
func LoadCertificate(creds Credentials) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(creds.CertFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := readSecret(creds.KeyFile, creds.IdentitiesFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}

// LoadPassword reads the basic auth password.
func LoadPassword(creds Credentials) (string, error) {
	data, err := readSecret(creds.PasswordFile, creds.IdentitiesFile)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func loadCAPool(cafile string) (*x509.CertPool, error) {
	if cafile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(cafile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", cafile)
	}
	return pool, nil
}

// readSecret reads a file that must not be readable by group or others,
// decrypting it when it is age encrypted.
func readSecret(path, identities_file string) ([]byte, error) {
	if err := checkPermissions(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".age") {
		return data, nil
	}

	identities, err := loadIdentities(identities_file)
	if err != nil {
		return nil, err
	}
	if len(identities) == 0 {
		return nil, &ErrIdentitiesNotFound{}
	}

	rd, err := age.Decrypt(bytes.NewReader(data), identities...)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w", path, err)
	}
	return io.ReadAll(rd)
}

func checkPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	perms := info.Mode()
	if perms&0077 != 0 {
		return &ErrPermissionsTooOpen{
			msg: fmt.Sprintf("Permissions on %s are too open: %#o", path, perms),
		}
	}
	return nil
}

func loadIdentities(identities_file string) ([]age.Identity, error) {
	if identities_file == "" {
		return nil, nil
	}

	// check the file permissions
	if err := checkPermissions(identities_file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	// load the identities
	f, err := os.Open(identities_file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return age.ParseIdentities(f)
}
