package buildinfo

// Set via -ldflags "-X bruinhooks/internal/buildinfo.Version=..."
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

// UserAgent is sent on every outbound webhook delivery.
func UserAgent() string {
	return "bruin-webhooks/" + Version
}
