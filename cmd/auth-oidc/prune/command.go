package prune

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/auth-oidc/internal/business"
	"github.com/openkcm/auth-oidc/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"prune",
		"Auth OIDC state pruning",
		"Removes login states older than five minutes once and exits with an error if that fails",
		buildInfo,
		cmdutils.RunAsJob,
		business.PruneMain,
	)
}
