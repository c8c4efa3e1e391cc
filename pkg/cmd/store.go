package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/jeremyhahn/go-trusted-pki/pkg/model"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/jeremyhahn/go-trusted-pki/pkg/store/certstore"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	StoreKind,
	StoreInputPassword,
	StoreTargetGroup,
	StoreIssuer string
	StoreExport,
	StoreUnverified bool
)

func init() {

	storeCmd.PersistentFlags().StringVarP(&StoreKind, "kind", "k", "", "Artifact kind (certificate, keypair, crl, csr)")

	storeAddCmd.Flags().StringVar(&StoreInputPassword, "password", "", "Password of the files being added (defaults to the store password)")
	storeGetCmd.Flags().BoolVar(&StoreExport, "export", false, "Print the PEM certificate and its key, encrypted with the store password")
	storeMoveCmd.Flags().StringVar(&StoreTargetGroup, "to", "", "Destination group")
	storeCRLsCmd.Flags().BoolVar(&StoreUnverified, "unverified", false, "Include CRLs whose signature does not verify")
	storeRevokedCmd.Flags().StringVar(&StoreIssuer, "issuer", "", "Issuer certificate thumbprint")

	rootCmd.AddCommand(storeCmd)

	storeCmd.AddCommand(storeListCmd)
	storeCmd.AddCommand(storeGetCmd)
	storeCmd.AddCommand(storeAddCmd)
	storeCmd.AddCommand(storeDeleteCmd)
	storeCmd.AddCommand(storeMoveCmd)
	storeCmd.AddCommand(storeCRLsCmd)
	storeCmd.AddCommand(storeRevokedCmd)
	storeCmd.AddCommand(storeErrorsCmd)
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Certificate store",
	Long: `Manages the certificate store of the selected group. Artifacts are
addressed by thumbprint, the uppercase hex SHA-1 digest of their DER form.`,
}

func printer() *model.Printer {
	return model.NewPrinter(!color.NoColor)
}

func printInfo(w io.Writer, items ...model.Printable) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "No entries")
		return err
	}
	return printer().Print(w, items...)
}

// Parses --kind, defaulting to certificates
func storeKind(fallback pki.Kind) (pki.Kind, error) {
	if StoreKind == "" {
		return fallback, nil
	}
	return pki.ParseKind(StoreKind)
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored artifacts",
	Long:  `Lists every stored artifact, or only those of the given --kind.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds := []pki.Kind{
			pki.KindCertificate,
			pki.KindKeyPair,
			pki.KindRevocationList,
			pki.KindSigningRequest,
		}
		if StoreKind != "" {
			kind, err := pki.ParseKind(StoreKind)
			if err != nil {
				return err
			}
			kinds = []pki.Kind{kind}
		}
		items := make([]model.Printable, 0)
		for _, kind := range kinds {
			artifacts, err := listArtifacts(App.Store, kind)
			if err != nil {
				return err
			}
			items = append(items, artifacts...)
		}
		return printInfo(cmd.OutOrStdout(), items...)
	},
}

func listArtifacts(store certstore.Store, kind pki.Kind) ([]model.Printable, error) {
	items := make([]model.Printable, 0)
	switch kind {
	case pki.KindCertificate:
		certs, err := store.Certificates()
		if err != nil {
			return nil, err
		}
		for _, cert := range certs {
			items = append(items, model.NewCertInfo(cert))
		}
	case pki.KindKeyPair:
		keyPairs, err := store.KeyPairs()
		if err != nil {
			return nil, err
		}
		for _, kp := range keyPairs {
			items = append(items, model.NewKeyPairInfo(kp))
		}
	case pki.KindRevocationList:
		crls, err := store.CRLs()
		if err != nil {
			return nil, err
		}
		for _, crl := range crls {
			items = append(items, model.NewCrlInfo(crl))
		}
	case pki.KindSigningRequest:
		csrs, err := store.CSRs()
		if err != nil {
			return nil, err
		}
		for _, csr := range csrs {
			items = append(items, model.NewCsrInfo(csr))
		}
	}
	return items, nil
}

func getArtifact(store certstore.Store, kind pki.Kind, thumbprint pki.Thumbprint) (model.Printable, error) {
	switch kind {
	case pki.KindCertificate:
		cert, err := store.Certificate(thumbprint)
		if err != nil || cert == nil {
			return nil, err
		}
		return model.NewCertInfo(cert), nil
	case pki.KindKeyPair:
		kp, err := store.KeyPair(thumbprint)
		if err != nil || kp == nil {
			return nil, err
		}
		return model.NewKeyPairInfo(kp), nil
	case pki.KindRevocationList:
		crl, err := store.CRL(thumbprint)
		if err != nil || crl == nil {
			return nil, err
		}
		return model.NewCrlInfo(crl), nil
	case pki.KindSigningRequest:
		csr, err := store.CSR(thumbprint)
		if err != nil || csr == nil {
			return nil, err
		}
		return model.NewCsrInfo(csr), nil
	}
	return nil, pki.NewUnsupportedError("content kind", kind)
}

var storeGetCmd = &cobra.Command{
	Use:   "get [thumbprint]",
	Short: "Show a stored artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		thumbprint, err := pki.ParseThumbprint(args[0])
		if err != nil {
			return err
		}
		if StoreExport {
			data, err := App.Store.ExportCertificate(thumbprint, App.Password())
			if err != nil {
				return err
			}
			if data == nil {
				return fmt.Errorf("%w: %s", certstore.ErrCertNotFound, thumbprint)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		kind, err := storeKind(pki.KindCertificate)
		if err != nil {
			return err
		}
		info, err := getArtifact(App.Store, kind, thumbprint)
		if err != nil {
			return err
		}
		if info == nil {
			return fmt.Errorf("store: %s %s not found", kind, thumbprint)
		}
		return printInfo(cmd.OutOrStdout(), info)
	},
}

var storeAddCmd = &cobra.Command{
	Use:   "add [file...]",
	Short: "Add the artifacts found in files to the store",
	Long: `Reads each file in any supported format and adds every certificate,
key pair, revocation list and signing request it holds. Use --kind to add
only artifacts of one kind.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var password pki.PasswordSource = App.Password()
		if StoreInputPassword != "" {
			password = pki.Password(StoreInputPassword)
		}
		for _, fileName := range args {
			data, err := afero.ReadFile(App.Fs, fileName)
			if err != nil {
				return err
			}
			thumbprints, err := addArtifacts(App.Store, data, password)
			if err != nil {
				return fmt.Errorf("%s: %w", fileName, err)
			}
			for _, entry := range thumbprints {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", entry.kind, entry.thumbprint)
			}
		}
		return nil
	},
}

type added struct {
	kind       pki.Kind
	thumbprint pki.Thumbprint
}

func addArtifacts(store certstore.Store, data []byte, password pki.PasswordSource) ([]added, error) {
	result := make([]added, 0)
	if StoreKind == "" {
		artifacts, err := store.Add(data, password)
		if err != nil {
			return nil, err
		}
		for _, artifact := range artifacts {
			result = append(result, added{artifact.Kind, artifact.Thumbprint()})
		}
		return result, nil
	}
	kind, err := pki.ParseKind(StoreKind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case pki.KindCertificate:
		certs, err := store.AddCertificates(data, password)
		if err != nil {
			return nil, err
		}
		for _, cert := range certs {
			result = append(result, added{kind, cert.Thumbprint()})
		}
	case pki.KindKeyPair:
		keyPairs, err := store.AddKeyPairs(data, password)
		if err != nil {
			return nil, err
		}
		for _, kp := range keyPairs {
			result = append(result, added{kind, kp.Thumbprint()})
		}
	case pki.KindRevocationList:
		crls, err := store.AddCRLs(data, password)
		if err != nil {
			return nil, err
		}
		for _, crl := range crls {
			result = append(result, added{kind, crl.Thumbprint()})
		}
	case pki.KindSigningRequest:
		csrs, err := store.AddCSRs(data, password)
		if err != nil {
			return nil, err
		}
		for _, csr := range csrs {
			result = append(result, added{kind, csr.Thumbprint()})
		}
	}
	return result, nil
}

var storeDeleteCmd = &cobra.Command{
	Use:   "delete [thumbprint]",
	Short: "Delete a stored artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := storeKind(pki.KindCertificate)
		if err != nil {
			return err
		}
		thumbprint, err := pki.ParseThumbprint(args[0])
		if err != nil {
			return err
		}
		var deleted bool
		switch kind {
		case pki.KindCertificate:
			deleted, err = App.Store.DeleteCertificate(thumbprint)
		case pki.KindKeyPair:
			deleted, err = App.Store.DeleteKeyPair(thumbprint)
		case pki.KindRevocationList:
			deleted, err = App.Store.DeleteCRL(thumbprint)
		case pki.KindSigningRequest:
			deleted, err = App.Store.DeleteCSR(thumbprint)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted: %t\n", deleted)
		return nil
	},
}

var storeMoveCmd = &cobra.Command{
	Use:   "move [thumbprint]",
	Short: "Move a certificate and its key to another group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		thumbprint, err := pki.ParseThumbprint(args[0])
		if err != nil {
			return err
		}
		dest, err := certstore.OpenGroup(&certstore.Params{
			Logger:   App.Logger,
			Fs:       App.Fs,
			RootDir:  App.Home,
			Password: App.Password(),
			Metrics:  App.Metrics,
		}, StoreTargetGroup)
		if err != nil {
			return err
		}
		moved, err := App.Store.MoveCertificateTo(thumbprint, dest)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Moved: %t\n", moved)
		return nil
	},
}

var storeCRLsCmd = &cobra.Command{
	Use:   "crls [issuer-thumbprint]",
	Short: "List the revocation lists of an issuer",
	Long: `Lists the stored revocation lists whose issuer name matches the
subject of the given issuer certificate. Lists whose signature does not
verify under the issuer key are skipped unless --unverified is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issuer, err := pki.ParseThumbprint(args[0])
		if err != nil {
			return err
		}
		crls, err := App.Store.CRLsOfIssuer(issuer, !StoreUnverified)
		if err != nil {
			return err
		}
		items := make([]model.Printable, len(crls))
		for i, crl := range crls {
			items[i] = model.NewCrlInfo(crl)
		}
		return printInfo(cmd.OutOrStdout(), items...)
	},
}

var storeRevokedCmd = &cobra.Command{
	Use:   "revoked [thumbprint]",
	Short: "Check a stored certificate against the CRLs of its issuer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if StoreIssuer == "" {
			return pki.Missing("issuer")
		}
		thumbprint, err := pki.ParseThumbprint(args[0])
		if err != nil {
			return err
		}
		issuer, err := pki.ParseThumbprint(StoreIssuer)
		if err != nil {
			return err
		}
		cert, err := App.Store.Certificate(thumbprint)
		if err != nil {
			return err
		}
		if cert == nil {
			return fmt.Errorf("%w: %s", certstore.ErrCertNotFound, thumbprint)
		}
		err = certstore.IsRevoked(App.Store, cert.Certificate, issuer)
		switch err {
		case nil:
			fmt.Fprintln(cmd.OutOrStdout(), "Revoked: false")
			return nil
		case certstore.ErrCertRevoked:
			fmt.Fprintln(cmd.OutOrStdout(), "Revoked: true")
			return nil
		}
		return err
	},
}

var storeErrorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "List stored keys that cannot be decrypted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		thumbprints, err := App.Store.KeyPairsWithError()
		if err != nil {
			return err
		}
		for _, thumbprint := range thumbprints {
			fmt.Fprintln(cmd.OutOrStdout(), thumbprint)
		}
		return nil
	},
}
