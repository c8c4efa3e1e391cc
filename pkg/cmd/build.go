package cmd

import (
	"fmt"

	"github.com/jeremyhahn/go-trusted-pki/pkg/builder"
	"github.com/jeremyhahn/go-trusted-pki/pkg/cmd/common"
	"github.com/jeremyhahn/go-trusted-pki/pkg/model"
	"github.com/spf13/cobra"
)

var (
	KeyPairConfig,
	CsrConfig,
	CertConfig,
	CrlConfig,
	TransformConfig string
)

func init() {

	keyPairCmd.Flags().StringVarP(&KeyPairConfig, "config", "c", "", "Key pair request document (yaml or json, - for stdin)")
	csrCmd.Flags().StringVarP(&CsrConfig, "config", "c", "", "Signing request document (yaml or json, - for stdin)")
	certCmd.Flags().StringVarP(&CertConfig, "config", "c", "", "Certificate request document (yaml or json, - for stdin)")
	crlCmd.Flags().StringVarP(&CrlConfig, "config", "c", "", "Revocation list request document (yaml or json, - for stdin)")
	transformCmd.Flags().StringVarP(&TransformConfig, "config", "c", "", "Transform request document (yaml or json, - for stdin)")

	rootCmd.AddCommand(keyPairCmd)
	rootCmd.AddCommand(csrCmd)
	rootCmd.AddCommand(certCmd)
	rootCmd.AddCommand(crlCmd)
	rootCmd.AddCommand(transformCmd)
}

// Reads the request document, applies the configured defaults, runs the
// builder and writes the enriched document.
func build[T any](cmd *cobra.Command, fileName string, defaults func(*T), run func(*T) (*T, error)) error {
	config := new(T)
	if err := common.ReadDocument(App.Fs, cmd.InOrStdin(), fileName, config); err != nil {
		return err
	}
	defaults(config)
	result, err := run(config)
	if err != nil {
		return err
	}
	return writeResult(cmd, result)
}

func writeResult(cmd *cobra.Command, result any) error {
	return common.WriteDocument(App.Fs, cmd.OutOrStdout(), OutputFile, OutputFormat, result)
}

var keyPairCmd = &cobra.Command{
	Use:   "keypair",
	Short: "Generate or load a key pair",
	Long: `Loads the private key named by the document, or generates a new one
with the configured algorithm, and writes the private and public keys to
their output slots.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		b := builder.NewKeyPairBuilder(App.BuilderParams())
		return build(cmd, KeyPairConfig, App.Defaults.KeyPair, b.Build)
	},
}

var csrCmd = &cobra.Command{
	Use:   "csr",
	Short: "Build or re-sign a certificate signing request",
	RunE: func(cmd *cobra.Command, args []string) error {
		b := builder.NewCsrBuilder(App.BuilderParams())
		return build(cmd, CsrConfig, App.Defaults.Csr, b.Build)
	},
}

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Issue a certificate",
	Long: `Issues a certificate from a new or existing signing request. The
certificate is self-signed unless an issuer certificate and key are given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		b := builder.NewCertBuilder(App.BuilderParams())
		return build(cmd, CertConfig, App.Defaults.Cert, b.Build)
	},
}

var crlCmd = &cobra.Command{
	Use:   "crl",
	Short: "Issue a certificate revocation list",
	RunE: func(cmd *cobra.Command, args []string) error {
		b := builder.NewCrlBuilder(App.BuilderParams())
		return build(cmd, CrlConfig, App.Defaults.Crl, b.Build)
	},
}

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Convert, consolidate or print PKI files",
	Long: `Reads a set of input files and, depending on the mode, consolidates
them into a PKCS #12 or PEM store file, encodes each artifact to its own
file, prints them, or derives a signing request document from the first
certificate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := new(model.TransformConfig)
		if err := common.ReadDocument(App.Fs, cmd.InOrStdin(), TransformConfig, config); err != nil {
			return err
		}
		App.Defaults.Transform(config)
		result, err := builder.NewTransformBuilder(App.BuilderParams()).Build(config)
		if err != nil {
			return err
		}
		// Print mode renders the text unless a document was asked for
		if result.Text != "" && OutputFile == "" && OutputFormat == "" {
			fmt.Fprint(cmd.OutOrStdout(), result.Text)
			return nil
		}
		return writeResult(cmd, result)
	},
}
