package ota

type State int32

const (
	Idle State = iota
	CredentialResolution
	Downloading
	Validating
	Committing
	Restarting
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CredentialResolution:
		return "credential-resolution"
	case Downloading:
		return "downloading"
	case Validating:
		return "validating"
	case Committing:
		return "committing"
	case Restarting:
		return "restarting"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}
