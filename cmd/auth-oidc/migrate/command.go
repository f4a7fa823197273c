package migrate

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/auth-oidc/internal/business"
	"github.com/openkcm/auth-oidc/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"Auth OIDC migrations",
		"Applies the database migrations of the token and state tables",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
