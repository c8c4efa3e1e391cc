package cmd

import (
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/fatih/color"
	"github.com/jeremyhahn/go-trusted-pki/pkg/app"
	"github.com/jeremyhahn/go-trusted-pki/pkg/cmd/common"
	"github.com/spf13/cobra"
)

var (
	App        *app.App
	InitParams *app.AppInitParams

	NoColor      bool
	OutputFile   string
	OutputFormat string
)

var rootCmd = &cobra.Command{
	Use:   app.Name,
	Short: "X.509 key, request, certificate and revocation list toolkit",
	Long: `Trusted PKI generates and loads key pairs, builds and re-signs
certificate signing requests, issues certificates and revocation lists,
converts between PEM, DER, PKCS #8 and PKCS #12 and keeps the results in a
thumbprint addressed certificate store.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if NoColor {
			color.NoColor = true
		}
		if InitParams.PasswordPrompt == nil {
			InitParams.PasswordPrompt = common.PasswordPrompt("Store Password")
		}
		var err error
		App, err = app.NewApp().Init(InitParams)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if App == nil {
			return nil
		}
		return App.Close()
	},
	SilenceUsage:     true,
	TraverseChildren: true,
}

func init() {

	InitParams = &app.AppInitParams{}

	rootCmd.PersistentFlags().BoolVarP(&InitParams.Debug, "debug", "d", false, "Enable debug mode")
	rootCmd.PersistentFlags().StringVarP(&InitParams.ConfigDir, "config-dir", "", "", "Directory holding config.yaml")
	rootCmd.PersistentFlags().StringVarP(&InitParams.Home, "home", "", "", "Certificate store root directory")
	rootCmd.PersistentFlags().StringVarP(&InitParams.Group, "group", "g", "", "Certificate store group")
	rootCmd.PersistentFlags().StringVarP(&InitParams.LogDir, "log-dir", "", "", "Log file directory")
	rootCmd.PersistentFlags().StringVarP(&InitParams.LogLevel, "log-level", "", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&InitParams.StorePassword, "store-password", "p", "", "Password protecting private keys in the store")
	rootCmd.PersistentFlags().BoolVarP(&NoColor, "no-color", "", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVarP(&OutputFile, "out", "o", "", "Write the resulting document to a file instead of stdout")
	rootCmd.PersistentFlags().StringVarP(&OutputFormat, "format", "f", "", "Resulting document format (yaml, json)")

	rootCmd.AddCommand(versionCmd)

	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		common.PrintBanner(cmd.OutOrStdout(), app.Version)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
