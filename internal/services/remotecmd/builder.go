// Package remotecmd builds the remote archiving command.
package remotecmd

import (
	"github.com/alessio/shellescape"
	"github.com/fgeck/gotar-homelab/internal/models"
)

// Archiver is the remote archiving tool.
const Archiver = "tar"

// ElevationWrapper prefixes commands that need passwordless sudo.
var ElevationWrapper = []string{"sudo", "-n", "--"}

// Command is a remote command kept as an argument vector until it reaches
// the transport.
type Command struct {
	Args []string
}

// String serializes the vector into one command line for the remote shell.
// Every token is quoted so the remote shell passes it to the archiver
// unchanged.
func (c Command) String() string {
	return shellescape.QuoteCommand(c.Args)
}

// Elevated reports whether the command runs through the elevation wrapper.
func (c Command) Elevated() bool {
	return len(c.Args) > len(ElevationWrapper) && c.Args[0] == ElevationWrapper[0]
}

// Build returns the archiving command for plan. A nil capability means the
// probe was skipped and the command runs as the connecting user.
func Build(plan models.BackupPlan, capability *models.RemoteCapability) Command {
	var args []string
	if capability.NeedsElevation() {
		args = append(args, ElevationWrapper...)
	}

	args = append(args, Archiver, "--create", "--file=-", "--numeric-owner")
	if plan.OneFileSystem {
		args = append(args, "--one-file-system")
	}

	if plan.IncludeOnly {
		args = append(args, "--")
		args = append(args, plan.IncludePaths...)
		return Command{Args: args}
	}

	for _, pattern := range plan.ExcludePaths {
		args = append(args, "--exclude="+pattern)
	}
	args = append(args, "--", "/")
	return Command{Args: args}
}
