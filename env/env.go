package env

type Args struct {
	Test        *bool
	Verbose     *bool
	Speedon     *bool
	Diron       *bool
	Config      *string
	Profile     *string
	FirmwareDir *string
}
