package dispatch

import "fmt"

// Platform identifies a push provider family.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformFCMWeb  Platform = "fcm-web"

	// PlatformAll targets every available adapter with the full token list.
	PlatformAll Platform = "all"
)

// ConcretePlatforms is the fan-out order used for PlatformAll.
var ConcretePlatforms = []Platform{PlatformWeb, PlatformAndroid, PlatformIOS, PlatformFCMWeb}

// ParsePlatform maps a raw string onto a known Platform.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(s); p {
	case PlatformWeb, PlatformAndroid, PlatformIOS, PlatformFCMWeb, PlatformAll:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown platform %q", ErrInvalidRequest, s)
	}
}

// Concrete reports whether p names a single provider.
func (p Platform) Concrete() bool {
	switch p {
	case PlatformWeb, PlatformAndroid, PlatformIOS, PlatformFCMWeb:
		return true
	}
	return false
}

func (p Platform) String() string {
	return string(p)
}
