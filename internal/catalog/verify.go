package catalog

import (
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/pkgset/pkgset/internal/models"
)

// VerifyRepomd checks the detached armored signature of a repomd.xml file
// against a public keyring. Repositories that configure a signing key get
// their metadata verified before any packages are loaded from them.
func VerifyRepomd(repomdPath, sigPath, keyPath string) error {
	keyFile, err := os.Open(keyPath)
	if err != nil {
		return &models.AnalysisError{
			Type: models.ErrCatalogLoad,
			Err:  fmt.Errorf("failed to open signing key: %w", err),
		}
	}
	defer keyFile.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(keyFile)
	if err != nil {
		// Try as binary key
		if _, serr := keyFile.Seek(0, 0); serr != nil {
			return &models.AnalysisError{Type: models.ErrCatalogLoad, Err: serr}
		}
		keyring, err = openpgp.ReadKeyRing(keyFile)
		if err != nil {
			return &models.AnalysisError{
				Type: models.ErrCatalogLoad,
				Err:  fmt.Errorf("failed to read signing key: %w", err),
			}
		}
	}
	if len(keyring) == 0 {
		return &models.AnalysisError{
			Type: models.ErrCatalogLoad,
			Err:  fmt.Errorf("no keys found in %s", keyPath),
		}
	}

	signed, err := os.Open(repomdPath)
	if err != nil {
		return &models.AnalysisError{Type: models.ErrCatalogLoad, Err: err}
	}
	defer signed.Close()

	sig, err := os.Open(sigPath)
	if err != nil {
		return &models.AnalysisError{Type: models.ErrCatalogLoad, Err: err}
	}
	defer sig.Close()

	if _, err := openpgp.CheckArmoredDetachedSignature(keyring, signed, sig, nil); err != nil {
		return &models.AnalysisError{
			Type: models.ErrCatalogLoad,
			Err:  fmt.Errorf("repomd signature verification failed: %w", err),
		}
	}
	return nil
}
