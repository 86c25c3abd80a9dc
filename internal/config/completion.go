package config

import "github.com/spf13/cobra"

// CompleteOutputFormat provides shell completion candidates for the --output flag.
func CompleteOutputFormat(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{"table", "json", "plain"}, cobra.ShellCompDirectiveNoFileComp
}

// CompleteProvider provides shell completion candidates for the --provider flag.
func CompleteProvider(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{"viewdns", "securitytrails"}, cobra.ShellCompDirectiveNoFileComp
}

// CompleteKind provides shell completion candidates for the --kind flag.
func CompleteKind(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{"mx", "ns"}, cobra.ShellCompDirectiveNoFileComp
}

// CompleteExportFormat provides shell completion candidates for the --format flag.
func CompleteExportFormat(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{"csv", "xlsx", "zip"}, cobra.ShellCompDirectiveNoFileComp
}

// CompleteSessionState provides shell completion candidates for the --state flag.
func CompleteSessionState(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{"pending", "running", "paused", "completed", "failed", "cancelled"}, cobra.ShellCompDirectiveNoFileComp
}
