package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sandrinn/llm-gateway/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for the host capability details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("LLM Gateway Configuration Setup")
	color.Yellow("Follow the prompts to configure the host capability.")

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("\nHost capability base URL (e.g., https://api.example.com/v1): ")
	baseURL, _ := reader.ReadString('\n')
	baseURL = strings.TrimSpace(baseURL)

	fmt.Print("Host capability API key: ")
	apiKey, _ := reader.ReadString('\n')
	apiKey = strings.TrimSpace(apiKey)

	fmt.Print("Models (comma-separated, id or id@version): ")
	modelsLine, _ := reader.ReadString('\n')

	var models []string
	for _, model := range strings.Split(modelsLine, ",") {
		if model = strings.TrimSpace(model); model != "" {
			models = append(models, model)
		}
	}

	fmt.Print("Gateway API key (optional, for client authentication): ")
	gatewayKey, _ := reader.ReadString('\n')
	gatewayKey = strings.TrimSpace(gatewayKey)

	cfg := &config.Config{
		Host:   config.DefaultHost,
		Port:   config.DefaultPort,
		APIKey: gatewayKey,
		HostCapability: config.HostCapability{
			BaseURL: baseURL,
			APIKey:  apiKey,
			Models:  models,
		},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the gateway with: lmg serve")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'lmg config init' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: %s\n", "Diagnostics", cfg.DiagnosticsDir)

	fmt.Println("\nHost Capability:")
	fmt.Printf("  Base URL: %s\n", cfg.HostCapability.BaseURL)
	fmt.Printf("  API Key: %s\n", maskString(cfg.HostCapability.APIKey))
	fmt.Printf("  Models: %v\n", cfg.HostCapability.Models)
	if cfg.HostCapability.ClaudeMainModel != "" {
		fmt.Printf("  Claude Main: %s\n", cfg.HostCapability.ClaudeMainModel)
	}
	if cfg.HostCapability.ClaudeFastModel != "" {
		fmt.Printf("  Claude Fast: %s\n", cfg.HostCapability.ClaudeFastModel)
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		color.Red("Configuration validation failed: %v", err)
		return err
	}

	color.Green("Configuration is valid!")
	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
