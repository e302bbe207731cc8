package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command holding every client command
// group.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "flo",
		Short: "flolog client commands",
	}
	for _, c := range Commands(baseURL) {
		root.AddCommand(c)
	}
	return root
}

// Commands returns the client command groups so a binary can mount them
// next to its own.
func Commands(baseURL BaseURLFunc) []*cobra.Command {
	return []*cobra.Command{
		NewNamespaceCommand(baseURL),
		NewTableCommand(baseURL),
		NewLogCommand(baseURL),
		NewClusterCommand(baseURL),
		NewSubscribeCommand(),
	}
}
