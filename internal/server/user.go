package server

// User holds SSH credentials and optional sudo password for command execution.
// Password, inline key material and a key file path may be combined.
type User struct {
	Name         string
	Password     string
	SSHKey       string
	PrivateKey   string
	Passphrase   string
	SudoPassword string
}
