package housekeeper

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/auth-oidc/internal/business"
	"github.com/openkcm/auth-oidc/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"housekeeper",
		"Auth OIDC Housekeeping job",
		"Auth OIDC Housekeeping job periodically removes abandoned login states",
		buildInfo,
		cmdutils.RunAsService,
		business.HousekeeperMain,
	)
}
