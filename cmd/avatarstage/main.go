// Package main provides the CLI entry point for avatarstage.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/normanking/avatarstage/internal/config"
)

// Version information (set at build time)
var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "avatarstage",
		Short: "avatarstage - animated conversational avatar server",
		Long: `avatarstage serves an animated avatar page that listens, answers
through a chat backend, and speaks the reply while playing animation clips.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.avatarstage/config.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if port, _ := cmd.Flags().GetInt("port"); port > 0 {
				cfg.Server.Port = port
			}
			return serve(cmd.Context(), cfg)
		},
	}
	serveCmd.Flags().IntP("port", "p", 0, "override server.port")

	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the animation catalog and skits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			anims, skits, err := loadCatalog(cfg.Avatar)
			if err != nil {
				return err
			}

			fmt.Printf("Animations (default %s):\n", anims.Default())
			fmt.Printf("  %s\n", strings.Join(anims.Names(), ", "))
			fmt.Println()
			fmt.Println("Skits:")
			for _, cat := range skits.Categories() {
				fmt.Printf("  %s\n", cat.Name)
				for i, sk := range cat.Skits {
					fmt.Printf("    %d. %-16s [%s] %q\n", i, sk.Name, strings.Join(sk.Animations, ", "), sk.Script())
				}
			}
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("avatarstage %s\n", version)
		},
	}

	rootCmd.AddCommand(serveCmd, catalogCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
