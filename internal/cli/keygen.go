package cli

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/privtx/internal/enclave"
)

// GeneratedKey is the JSON result of keygen.
type GeneratedKey struct {
	PublicKey      string `json:"publicKey"`
	PublicKeyPath  string `json:"publicKeyPath"`
	PrivateKeyPath string `json:"privateKeyPath"`
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen <name>",
		Short: "Generate a key pair",
		Long: `Generate a key pair and write it to <name>.pub and <name>.key.

Both files hold standard base64. The private key file is created with
mode 0600 and is never overwritten.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)

			kp, err := enclave.GenerateKeyPair(rand.Reader)
			if err != nil {
				return f.Fail("key generation failed", err)
			}

			out := GeneratedKey{
				PublicKey:      kp.Public.String(),
				PublicKeyPath:  args[0] + ".pub",
				PrivateKeyPath: args[0] + ".key",
			}
			if err := writeNew(out.PrivateKeyPath, base64.StdEncoding.EncodeToString(kp.Private[:]), 0o600); err != nil {
				return f.Fail("failed to write private key", withCode(ErrCodeWriteFailed, err))
			}
			if err := writeNew(out.PublicKeyPath, out.PublicKey, 0o644); err != nil {
				return f.Fail("failed to write public key", withCode(ErrCodeWriteFailed, err))
			}
			return f.Success(out, fmt.Sprintf("Generated %s", out.PublicKey))
		},
	}
}

func writeNew(path, content string, perm os.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(content + "\n"); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
