package buildinfo

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}

// UserAgent is sent on outbound provider requests.
func UserAgent() string {
	ua := "ordersync/" + Version
	if Commit != "" {
		ua += " (" + Commit + ")"
	}
	return ua
}
