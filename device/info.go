package device

// Version is stamped at build time with -ldflags "-X".
var Version = "0.1.0-dev"

// Info is the content of the Device Information service.
type Info struct {
	Manufacturer     string
	Model            string
	Serial           string
	FirmwareRevision string
}

// DefaultInfo describes a host build.
func DefaultInfo(serial string) Info {
	return Info{
		Manufacturer:     "ZOCO BODY FIT",
		Model:            "ErgoBlue",
		Serial:           serial,
		FirmwareRevision: Version,
	}
}
