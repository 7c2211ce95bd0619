package models

// Target identifies the remote endpoint of a run.
type Target struct {
	User string
	Host string
	Port int
}

// RemoteCapability describes the privilege of the remote session.
// A nil *RemoteCapability means the probe was skipped.
type RemoteCapability struct {
	IsRoot              bool
	HasPasswordlessSudo bool
}

// NeedsElevation reports whether commands must be wrapped with sudo.
func (c *RemoteCapability) NeedsElevation() bool {
	return c != nil && !c.IsRoot && c.HasPasswordlessSudo
}

// SSHResult holds the result of a remote command.
type SSHResult struct {
	CommandRun bool
	Output     string
	ExitCode   int
	Error      error
}

// StreamResult holds the outcome of a streaming remote command.
type StreamResult struct {
	ExitCode     int
	BytesWritten int64
	Stderr       string
}
