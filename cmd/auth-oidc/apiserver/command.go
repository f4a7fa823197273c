package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/auth-oidc/internal/business"
	"github.com/openkcm/auth-oidc/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"Auth OIDC API server",
		"Auth OIDC API server hosts the login endpoints and the hooks called by the host platform",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
